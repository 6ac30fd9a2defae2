package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/integration"
	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/mautops/repair-gin/internal/model"
	"github.com/mautops/repair-gin/internal/repository"
	"github.com/mautops/repair-gin/internal/utils"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus"
)

// RepairDeps 维修单与流程服务共用的依赖
type RepairDeps struct {
	Repairs     repository.RepairRepository
	Sequence    repository.SequenceRepository
	Users       repository.UserRepository
	Departments repository.DepartmentRepository
	Monitors    workflow.MonitorChecker
	Engine      *workflow.Engine
	Audit       AuditService
	AuditLog    AuditLogService
	Location    *time.Location
	Logger      logrus.FieldLogger
}

func (d *RepairDeps) normalize() {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
}

// CreateRepairRequest 新建维修单请求
type CreateRepairRequest struct {
	CustomerName string          `json:"customerName" binding:"required"`
	Phone        string          `json:"phone"`
	DeviceType   string          `json:"deviceType" binding:"required"`
	Color        string          `json:"color"`
	Issue        string          `json:"issue"`
	Price        float64         `json:"price" binding:"gte=0"`
	Parts        []workflow.Part `json:"parts"`
	Notes        string          `json:"notes"`
	NotesPublic  string          `json:"notesPublic"`
	ETA          *time.Time      `json:"eta"`
	RecipientID  string          `json:"recipient"`
	DepartmentID string          `json:"initialDepartment"`
	TechnicianID string          `json:"technician"`
}

// ListRepairsRequest 维修单列表查询参数
type ListRepairsRequest struct {
	Query        string `form:"q"`
	Status       string `form:"status"`
	TechnicianID string `form:"technician"`
	DepartmentID string `form:"department"`
	StartDate    string `form:"startDate"`
	EndDate      string `form:"endDate"`
	SortBy       string `form:"sortBy"`
	SortOrder    string `form:"sortOrder"`
	Page         int    `form:"page"`
	PageSize     int    `form:"pageSize"`
}

// DepartmentRepairsRequest 部门维修单查询参数
type DepartmentRepairsRequest struct {
	Status string `form:"status"`
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
}

// CustomerUpdateRequest 新增客户动态请求,isPublic 默认为 true
type CustomerUpdateRequest struct {
	Type     string `json:"type" binding:"required"`
	Text     string `json:"text"`
	FileURL  string `json:"fileUrl"`
	IsPublic *bool  `json:"isPublic"`
}

// RepairView 维修单及整理后的事件日志
type RepairView struct {
	*workflow.Repair
	Logs []AuditEntry `json:"logs,omitempty"`
}

// RepairList 维修单列表结果
type RepairList struct {
	Items    []*RepairView `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// RepairService 维修单服务
type RepairService interface {
	Create(ctx context.Context, req *CreateRepairRequest) (*RepairView, error)
	List(ctx context.Context, req *ListRepairsRequest) (*RepairList, error)
	Get(ctx context.Context, id string) (*RepairView, error)
	Update(ctx context.Context, id string, body map[string]json.RawMessage) (*RepairView, error)
	Delete(ctx context.Context, id string) error
	ListByDepartment(ctx context.Context, departmentID string, req *DepartmentRepairsRequest) (*RepairList, error)
	AddCustomerUpdate(ctx context.Context, id string, req *CustomerUpdateRequest) (*workflow.CustomerUpdate, error)
}

type repairService struct {
	deps   RepairDeps
	outbox *outboxBuilder
	access *repairAccess
	now    func() time.Time
}

// NewRepairService 创建维修单服务
func NewRepairService(deps RepairDeps) RepairService {
	deps.normalize()
	return &repairService{
		deps:   deps,
		outbox: newOutboxBuilder(deps.Users, deps.Logger),
		access: &repairAccess{monitors: deps.Monitors},
		now:    deps.Engine.Now,
	}
}

// Create 新建维修单:分配编号和公开链接,可选地生成第一个部门阶段
func (s *repairService) Create(ctx context.Context, req *CreateRepairRequest) (*RepairView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.HasIntake() && !p.Caps.CanEditAll() {
		return nil, fmt.Errorf("%w: creating repairs requires intake permission", workflow.ErrForbidden)
	}

	customer, err := utils.TrimAndValidate(req.CustomerName, 255)
	if err != nil {
		return nil, err
	}
	device, err := utils.TrimAndValidate(req.DeviceType, 128)
	if err != nil {
		return nil, err
	}
	phone := strings.TrimSpace(req.Phone)
	if err := utils.ValidatePhone(phone); err != nil {
		return nil, err
	}
	if req.Price < 0 {
		return nil, invalidInput("price must not be negative")
	}
	parts, err := validateParts(req.Parts)
	if err != nil {
		return nil, err
	}
	if err := s.checkDepartment(ctx, req.DepartmentID); err != nil {
		return nil, err
	}
	if err := s.checkUser(ctx, req.TechnicianID, "technician"); err != nil {
		return nil, err
	}

	number, err := s.deps.Sequence.Next(ctx, repository.RepairNumberSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate repair number: %w", err)
	}
	token, err := utils.GenerateTrackingToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tracking token: %w", err)
	}

	now := s.now()
	r := workflow.NewRepair(uuid.NewString(), number, now)
	r.CustomerName = customer
	r.Phone = phone
	r.DeviceType = device
	r.Color = strings.TrimSpace(req.Color)
	r.Issue = strings.TrimSpace(req.Issue)
	r.Price = req.Price
	r.Parts = parts
	r.Notes = req.Notes
	r.NotesPublic = req.NotesPublic
	r.ETA = req.ETA
	r.RecipientID = req.RecipientID
	r.CreatedBy = p.UserID
	r.Tracking = workflow.PublicTracking{
		Token:     token,
		Enabled:   true,
		ShowPrice: false,
		ShowEta:   true,
		CreatedAt: &now,
	}

	if err := s.deps.Engine.Open(p, r, workflow.OpenInput{
		DepartmentID: req.DepartmentID,
		TechnicianID: req.TechnicianID,
	}); err != nil {
		return nil, err
	}

	recipients := withTechnician(s.outbox.adminIDs(ctx), r.TechnicianID)
	ob := s.buildOutbox(integration.KindRepairCreated, r, fmt.Sprintf("New repair #%d", r.RepairNumber), recipients, nil, now)
	if err := s.deps.Repairs.Create(ctx, r, ob...); err != nil {
		return nil, err
	}

	metrics.RecordRepairCreated()
	s.deps.Logger.WithFields(logrus.Fields{
		"repair_id":     r.ID,
		"repair_number": r.RepairNumber,
		"user_id":       p.UserID,
	}).Info("repair created")

	return s.view(ctx, r, true), nil
}

// List 按条件查询;没有全局查看权限的用户只能看到自己部门或自己负责的维修单
func (s *repairService) List(ctx context.Context, req *ListRepairsRequest) (*RepairList, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &ListRepairsRequest{}
	}

	filter := &repository.RepairFilter{
		Query:        req.Query,
		Status:       req.Status,
		TechnicianID: req.TechnicianID,
		DepartmentID: req.DepartmentID,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
		Page:         req.Page,
		PageSize:     req.PageSize,
	}
	if filter.Status != "" {
		if _, err := workflow.ParseStatus(filter.Status); err != nil {
			return nil, err
		}
	}
	if req.StartDate != "" {
		from, err := utils.ParseDay(req.StartDate, s.deps.Location, false)
		if err != nil {
			return nil, err
		}
		filter.From = &from
	}
	if req.EndDate != "" {
		to, err := utils.ParseDay(req.EndDate, s.deps.Location, true)
		if err != nil {
			return nil, err
		}
		filter.To = &to
	}

	if !p.Caps.IsAdmin() && !p.Caps.HasIntake() && filter.DepartmentID == "" {
		monitored, err := s.deps.Departments.FindByMonitor(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if len(monitored) > 0 {
			filter.DepartmentID = monitored[0].ID
		} else {
			filter.TechnicianID = p.UserID
		}
	}

	repairs, total, err := s.deps.Repairs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]*RepairView, 0, len(repairs))
	for _, r := range repairs {
		items = append(items, s.view(ctx, r, false))
	}
	return &RepairList{Items: items, Total: total, Page: req.Page, PageSize: req.PageSize}, nil
}

// Get 查看单个维修单
func (s *repairService) Get(ctx context.Context, id string) (*RepairView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.deps.Repairs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.requireView(ctx, p, r, false); err != nil {
		return nil, err
	}
	return s.view(ctx, r, true), nil
}

// Update 修改字段和/或状态;没有编辑权限的技术员只能改状态,并需要密码确认
func (s *repairService) Update(ctx context.Context, id string, body map[string]json.RawMessage) (*RepairView, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, invalidInput("nothing to update")
	}
	r, err := s.deps.Repairs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var status string
	if raw, ok := body["status"]; ok {
		if err := decodeField(raw, "status", &status); err != nil {
			return nil, err
		}
	}

	if !p.Caps.CanEditAll() {
		if err := s.checkTechnicianEdit(ctx, p, r, status, body); err != nil {
			return nil, err
		}
	}

	before := snapshot(r)
	now := s.now()

	// 技术员要先于状态落到当前阶段,状态改为进行中时等待的阶段才会开始
	if p.Caps.CanEditAll() {
		if err := s.attachTechnician(ctx, p, r, body); err != nil {
			return nil, err
		}
	}

	if status != "" {
		st, err := workflow.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		var location string
		if raw, ok := body["rejectedDeviceLocation"]; ok {
			if err := decodeField(raw, "rejectedDeviceLocation", &location); err != nil {
				return nil, err
			}
		}
		if err := s.deps.Engine.ApplyStatus(p, r, workflow.StatusInput{Status: st, RejectedLocation: location}); err != nil {
			return nil, err
		}
	}

	if err := s.applyFields(ctx, r, body, status != ""); err != nil {
		return nil, err
	}

	changes := diffSnapshots(before, snapshot(r))
	if len(changes) > 0 {
		s.deps.Engine.Trail().Append(r, workflow.NewEvent(p.UserID, now, workflow.UpdatePayload{Changes: changes}))
	}
	r.UpdatedBy = p.UserID
	r.UpdatedAt = now

	recipients := withTechnician(s.outbox.adminIDs(ctx), r.TechnicianID)
	ob := s.buildOutbox(integration.KindRepairUpdated, r, fmt.Sprintf("Repair #%d updated", r.RepairNumber), recipients, changes, now)
	if err := s.deps.Repairs.Update(ctx, r, ob...); err != nil {
		return nil, err
	}
	return s.view(ctx, r, true), nil
}

// Delete 硬删除维修单
func (s *repairService) Delete(ctx context.Context, id string) error {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	if !p.Caps.CanDelete() {
		return fmt.Errorf("%w: deleting repairs requires delete permission", workflow.ErrForbidden)
	}
	r, err := s.deps.Repairs.FindByID(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	s.deps.Engine.Trail().Append(r, workflow.NewEvent(p.UserID, now, workflow.DeletePayload{RepairNumber: r.RepairNumber}))

	ob := s.buildOutbox(integration.KindRepairDeleted, r, fmt.Sprintf("Repair #%d deleted", r.RepairNumber), s.outbox.adminIDs(ctx), nil, now)
	if err := s.deps.Repairs.Delete(ctx, r, ob...); err != nil {
		return err
	}

	if s.deps.AuditLog != nil {
		_ = s.deps.AuditLog.RecordAction(ctx, p.UserID, "repair.delete", "repair", r.ID, map[string]interface{}{
			"repairId":     r.RepairNumber,
			"customerName": r.CustomerName,
			"deviceType":   r.DeviceType,
		})
	}
	return nil
}

// ListByDepartment 部门当前的维修单,按更新时间倒序
// 管理员、收件人员、全局查看权限、部门成员和部门主管可以查看
func (s *repairService) ListByDepartment(ctx context.Context, departmentID string, req *DepartmentRepairsRequest) (*RepairList, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &DepartmentRepairsRequest{}
	}
	if _, err := s.deps.Departments.FindByID(ctx, departmentID); err != nil {
		return nil, err
	}
	if !p.Caps.IsAdmin() && !p.Caps.HasIntake() && !p.Caps.Has(auth.CapViewAll) && p.DepartmentID != departmentID {
		ok, err := s.deps.Monitors.IsMonitor(ctx, p.UserID, departmentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: department repairs are not visible", workflow.ErrForbidden)
		}
	}
	if req.Status != "" {
		if _, err := workflow.ParseStatus(req.Status); err != nil {
			return nil, err
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	repairs, total, err := s.deps.Repairs.List(ctx, &repository.RepairFilter{
		Status:       req.Status,
		DepartmentID: departmentID,
		SortBy:       "updated_at",
		Page:         page,
		PageSize:     limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]*RepairView, 0, len(repairs))
	for _, r := range repairs {
		items = append(items, s.view(ctx, r, false))
	}
	return &RepairList{Items: items, Total: total, Page: page, PageSize: limit}, nil
}

// AddCustomerUpdate 追加一条客户动态,需要编辑权限
func (s *repairService) AddCustomerUpdate(ctx context.Context, id string, req *CustomerUpdateRequest) (*workflow.CustomerUpdate, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Caps.CanEditAll() {
		return nil, fmt.Errorf("%w: customer updates require edit permission", workflow.ErrForbidden)
	}
	r, err := s.deps.Repairs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	update := workflow.CustomerUpdate{
		Type:      strings.TrimSpace(req.Type),
		IsPublic:  true,
		CreatedBy: p.UserID,
		CreatedAt: now,
	}
	if req.IsPublic != nil {
		update.IsPublic = *req.IsPublic
	}
	if update.Type == workflow.CustomerUpdateText {
		update.Text = strings.TrimSpace(utils.SanitizeString(req.Text))
	} else {
		update.FileURL = strings.TrimSpace(req.FileURL)
	}
	if err := update.Validate(); err != nil {
		return nil, invalidInput("%v", err)
	}

	count := len(r.CustomerUpdates)
	r.CustomerUpdates = append(r.CustomerUpdates, update)
	s.deps.Engine.Trail().Append(r, workflow.NewEvent(p.UserID, now, workflow.UpdatePayload{
		Changes: []workflow.FieldChange{{Field: "customerUpdates", From: count, To: count + 1}},
	}))
	r.UpdatedBy = p.UserID
	r.UpdatedAt = now

	if err := s.deps.Repairs.Update(ctx, r); err != nil {
		return nil, err
	}
	return &update, nil
}

// checkTechnicianEdit 技术员只能修改状态,交付时可带最终价格和配件,拒修时可带设备位置
func (s *repairService) checkTechnicianEdit(ctx context.Context, p auth.Principal, r *workflow.Repair, status string, body map[string]json.RawMessage) error {
	if r.TechnicianID == "" || r.TechnicianID != p.UserID {
		return ErrFieldNotAllowed
	}

	allowed := map[string]bool{"status": true, "password": true}
	switch workflow.Status(status) {
	case workflow.StatusDelivered:
		allowed["finalPrice"] = true
		allowed["parts"] = true
	case workflow.StatusRejected:
		allowed["rejectedDeviceLocation"] = true
	}
	for key := range body {
		if !allowed[key] {
			return fmt.Errorf("%w: %s", ErrFieldNotAllowed, key)
		}
	}

	var password string
	if raw, ok := body["password"]; ok {
		if err := decodeField(raw, "password", &password); err != nil {
			return err
		}
	}
	if password == "" {
		return ErrPasswordRequired
	}
	user, err := s.deps.Users.FindByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(password, user.PasswordHash) {
		return ErrWrongPassword
	}
	return nil
}

// attachTechnician 写入维修单技术员,当前阶段还没有技术员时一并分配
func (s *repairService) attachTechnician(ctx context.Context, p auth.Principal, r *workflow.Repair, body map[string]json.RawMessage) error {
	raw, ok := body["technician"]
	if !ok {
		return nil
	}
	var id string
	if err := decodeField(raw, "technician", &id); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if id != r.TechnicianID {
		if err := s.checkUser(ctx, id, "technician"); err != nil {
			return err
		}
		r.TechnicianID = id
	}
	s.deps.Engine.AttachTechnician(p, r, id)
	return nil
}

// applyFields 写入请求中出现的字段,权限已由调用方检查
func (s *repairService) applyFields(ctx context.Context, r *workflow.Repair, body map[string]json.RawMessage, statusApplied bool) error {
	for key, raw := range body {
		var err error
		switch key {
		case "customerName":
			var v string
			if err = decodeField(raw, key, &v); err == nil {
				r.CustomerName, err = utils.TrimAndValidate(v, 255)
			}
		case "phone":
			var v string
			if err = decodeField(raw, key, &v); err == nil {
				v = strings.TrimSpace(v)
				if err = utils.ValidatePhone(v); err == nil {
					r.Phone = v
				}
			}
		case "deviceType":
			var v string
			if err = decodeField(raw, key, &v); err == nil {
				r.DeviceType, err = utils.TrimAndValidate(v, 128)
			}
		case "color":
			err = decodeField(raw, key, &r.Color)
		case "issue":
			err = decodeField(raw, key, &r.Issue)
		case "notes":
			err = decodeField(raw, key, &r.Notes)
		case "notesPublic":
			err = decodeField(raw, key, &r.NotesPublic)
		case "price":
			var v float64
			if err = decodeField(raw, key, &v); err == nil {
				if v < 0 {
					err = invalidInput("price must not be negative")
				} else {
					r.Price = v
				}
			}
		case "finalPrice":
			var v *float64
			if err = decodeField(raw, key, &v); err == nil {
				if v != nil && *v < 0 {
					err = invalidInput("finalPrice must not be negative")
				} else {
					r.FinalPrice = v
				}
			}
		case "parts":
			var v []workflow.Part
			if err = decodeField(raw, key, &v); err == nil {
				r.Parts, err = validateParts(v)
			}
		case "eta":
			r.ETA, err = s.decodeTime(raw, key)
		case "technician":
			var v string
			if err = decodeField(raw, key, &v); err == nil && v != r.TechnicianID {
				if err = s.checkUser(ctx, v, "technician"); err == nil {
					r.TechnicianID = v
				}
			}
		case "recipient":
			err = decodeField(raw, key, &r.RecipientID)
		case "hasWarranty":
			err = decodeField(raw, key, &r.Warranty.HasWarranty)
		case "warrantyEnd":
			r.Warranty.End, err = s.decodeTime(raw, key)
		case "warrantyNotes":
			err = decodeField(raw, key, &r.Warranty.Notes)
		case "rejectedDeviceLocation":
			if !statusApplied {
				var v string
				if err = decodeField(raw, key, &v); err == nil {
					r.RejectedDeviceLocation = workflow.NormalizeRejectedLocation(v)
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *repairService) decodeTime(raw json.RawMessage, field string) (*time.Time, error) {
	var v *string
	if err := decodeField(raw, field, &v); err != nil {
		return nil, err
	}
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	value := strings.TrimSpace(*v)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := utils.ParseDay(value, s.deps.Location, false)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *repairService) checkDepartment(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.deps.Departments.FindByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalidInput("unknown department %s", id)
		}
		return err
	}
	return nil
}

func (s *repairService) checkUser(ctx context.Context, id, role string) error {
	if id == "" {
		return nil
	}
	if _, err := s.deps.Users.FindByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalidInput("unknown %s %s", role, id)
		}
		return err
	}
	return nil
}

// buildOutbox 组装失败只记录日志,不影响维修单写入
func (s *repairService) buildOutbox(kind string, r *workflow.Repair, message string, recipients []string, changes []workflow.FieldChange, now time.Time) []*model.OutboxModel {
	ob, err := s.outbox.build(kind, r, message, recipients, changes, now)
	if err != nil {
		s.deps.Logger.WithError(err).WithField("repair_id", r.ID).Warn("skipping repair notification")
		return nil
	}
	return []*model.OutboxModel{ob}
}

func (s *repairService) view(ctx context.Context, r *workflow.Repair, withLogs bool) *RepairView {
	v := &RepairView{Repair: r}
	if withLogs && s.deps.Audit != nil {
		v.Logs = s.deps.Audit.Read(ctx, r.Events)
	}
	return v
}

// repairAccess 维修单查看权限
type repairAccess struct {
	monitors workflow.MonitorChecker
}

// requireView 管理员和收件人员可查看全部;否则需要是负责技术员或当前部门主管
// stageTechnicians 为 true 时,曾在任一阶段负责的技术员也可查看
func (a *repairAccess) requireView(ctx context.Context, p auth.Principal, r *workflow.Repair, stageTechnicians bool) error {
	if p.Caps.IsAdmin() || p.Caps.HasIntake() {
		return nil
	}
	if r.TechnicianID != "" && r.TechnicianID == p.UserID {
		return nil
	}
	if stageTechnicians && r.HasStageTechnician(p.UserID) {
		return nil
	}
	if r.CurrentDepartmentID != "" && a.monitors != nil {
		ok, err := a.monitors.IsMonitor(ctx, p.UserID, r.CurrentDepartmentID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrNotVisible
}

func decodeField(raw json.RawMessage, field string, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidInput("invalid value for %s", field)
	}
	return nil
}

func validateParts(parts []workflow.Part) ([]workflow.Part, error) {
	if parts == nil {
		return []workflow.Part{}, nil
	}
	for i, part := range parts {
		if err := part.Validate(); err != nil {
			return nil, invalidInput("part %d: %v", i, err)
		}
	}
	return parts, nil
}

// 记录在 update 事件中的字段
var trackedFields = []string{
	"status", "technician", "finalPrice", "notes", "recipient", "parts",
	"deliveryDate", "returnDate", "rejectedDeviceLocation",
	"customerName", "phone", "deviceType", "color", "issue", "price",
	"eta", "notesPublic", "hasWarranty", "warrantyEnd", "warrantyNotes",
}

func snapshot(r *workflow.Repair) map[string]interface{} {
	return map[string]interface{}{
		"status":                 string(r.Status),
		"technician":             r.TechnicianID,
		"finalPrice":             floatValue(r.FinalPrice),
		"notes":                  r.Notes,
		"recipient":              r.RecipientID,
		"parts":                  append([]workflow.Part{}, r.Parts...),
		"deliveryDate":           timeValue(r.DeliveryDate),
		"returnDate":             timeValue(r.ReturnDate),
		"rejectedDeviceLocation": string(r.RejectedDeviceLocation),
		"customerName":           r.CustomerName,
		"phone":                  r.Phone,
		"deviceType":             r.DeviceType,
		"color":                  r.Color,
		"issue":                  r.Issue,
		"price":                  r.Price,
		"eta":                    timeValue(r.ETA),
		"notesPublic":            r.NotesPublic,
		"hasWarranty":            r.Warranty.HasWarranty,
		"warrantyEnd":            timeValue(r.Warranty.End),
		"warrantyNotes":          r.Warranty.Notes,
	}
}

func diffSnapshots(before, after map[string]interface{}) []workflow.FieldChange {
	var changes []workflow.FieldChange
	for _, field := range trackedFields {
		if !reflect.DeepEqual(before[field], after[field]) {
			changes = append(changes, workflow.FieldChange{Field: field, From: before[field], To: after[field]})
		}
	}
	return changes
}

func floatValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
