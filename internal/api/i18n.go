package api

import (
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// I18nManager 国际化管理器
type I18nManager struct {
	mu       sync.RWMutex
	messages map[string]map[string]string // lang -> key -> message
}

var defaultI18nManager *I18nManager

func init() {
	defaultI18nManager = NewI18nManager()
	defaultI18nManager.LoadMessages("en", map[string]string{
		"error.not_found":             "Resource not found",
		"error.route_not_found":       "Route not found",
		"error.unauthorized":          "Unauthorized",
		"error.invalid_credentials":   "Invalid username or password",
		"error.forbidden":             "Forbidden",
		"error.field_not_allowed":     "You are not allowed to change this field",
		"error.bad_request":           "Bad request",
		"error.password_required":     "Password confirmation is required",
		"error.wrong_password":        "Password is incorrect",
		"error.stage_not_found":       "Flow step not found",
		"error.not_current_step":      "Only the current step can be changed",
		"error.stage_not_completed":   "The current step must be completed first",
		"error.no_active_stage":       "This repair has no active flow",
		"error.illegal_transition":    "This status change is not allowed",
		"error.invalid_status":        "Unknown status",
		"error.technician_required":   "A technician is required",
		"error.department_required":   "A department is required",
		"error.version_conflict":      "The repair was changed by someone else, reload and try again",
		"error.duplicate":             "Record already exists",
		"error.too_many_requests":     "Too many requests",
		"error.internal_error":        "Internal server error",
		"success.created":             "Created successfully",
		"success.updated":             "Updated successfully",
		"success.deleted":             "Deleted successfully",
	})
	defaultI18nManager.LoadMessages("zh", map[string]string{
		"error.not_found":             "资源未找到",
		"error.route_not_found":       "接口不存在",
		"error.unauthorized":          "未授权",
		"error.invalid_credentials":   "用户名或密码错误",
		"error.forbidden":             "禁止访问",
		"error.field_not_allowed":     "无权修改该字段",
		"error.bad_request":           "请求错误",
		"error.password_required":     "需要输入密码确认",
		"error.wrong_password":        "密码错误",
		"error.stage_not_found":       "流程阶段不存在",
		"error.not_current_step":      "只能操作当前阶段",
		"error.stage_not_completed":   "请先完成当前阶段",
		"error.no_active_stage":       "该维修单没有进行中的流程",
		"error.illegal_transition":    "不允许的状态变更",
		"error.invalid_status":        "未知状态",
		"error.technician_required":   "请指定技术员",
		"error.department_required":   "请指定部门",
		"error.version_conflict":      "维修单已被他人修改,请刷新后重试",
		"error.duplicate":             "记录已存在",
		"error.too_many_requests":     "请求过于频繁",
		"error.internal_error":        "服务器内部错误",
		"success.created":             "创建成功",
		"success.updated":             "更新成功",
		"success.deleted":             "删除成功",
	})
	defaultI18nManager.LoadMessages("ar", map[string]string{
		"error.not_found":             "المورد غير موجود",
		"error.route_not_found":       "المسار غير موجود",
		"error.unauthorized":          "غير مصرح",
		"error.invalid_credentials":   "اسم المستخدم أو كلمة المرور غير صحيحة",
		"error.forbidden":             "ممنوع",
		"error.field_not_allowed":     "غير مسموح لك بتعديل هذا الحقل",
		"error.bad_request":           "طلب غير صالح",
		"error.password_required":     "يلزم تأكيد كلمة المرور",
		"error.wrong_password":        "كلمة المرور غير صحيحة",
		"error.stage_not_found":       "مرحلة سير العمل غير موجودة",
		"error.not_current_step":      "يمكن تعديل المرحلة الحالية فقط",
		"error.stage_not_completed":   "يجب إكمال المرحلة الحالية أولاً",
		"error.no_active_stage":       "لا توجد مرحلة نشطة لهذا الإصلاح",
		"error.illegal_transition":    "تغيير الحالة هذا غير مسموح",
		"error.invalid_status":        "حالة غير معروفة",
		"error.technician_required":   "يلزم تحديد فني",
		"error.department_required":   "يلزم تحديد قسم",
		"error.version_conflict":      "تم تعديل الإصلاح من قبل مستخدم آخر، أعد التحميل وحاول مجدداً",
		"error.duplicate":             "السجل موجود مسبقاً",
		"error.too_many_requests":     "طلبات كثيرة جداً",
		"error.internal_error":        "خطأ داخلي في الخادم",
		"success.created":             "تم الإنشاء بنجاح",
		"success.updated":             "تم التحديث بنجاح",
		"success.deleted":             "تم الحذف بنجاح",
	})
}

// NewI18nManager 创建国际化管理器
func NewI18nManager() *I18nManager {
	return &I18nManager{
		messages: make(map[string]map[string]string),
	}
}

// LoadMessages 加载语言消息
func (m *I18nManager) LoadMessages(lang string, messages map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[lang] = messages
}

// Translate 翻译消息,依次回退到英文和 key 本身
func (m *I18nManager) Translate(lang, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if messages, ok := m.messages[lang]; ok {
		if message, ok := messages[key]; ok {
			return message
		}
	}
	if lang != "en" {
		if message, ok := m.messages["en"][key]; ok {
			return message
		}
	}
	return key
}

// I18nMiddleware 国际化中间件,lang 查询参数优先于 Accept-Language
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := "en"

		if queryLang := c.Query("lang"); queryLang != "" {
			lang = normalizeLanguage(queryLang)
		} else if headerLang := c.GetHeader("Accept-Language"); headerLang != "" {
			lang = parseAcceptLanguage(headerLang)
		}

		c.Set("language", lang)
		c.Next()
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get("language"); exists {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return "en"
}

// T 翻译消息(使用默认管理器)
func T(c *gin.Context, key string) string {
	if key == "" {
		return ""
	}
	return defaultI18nManager.Translate(GetLanguage(c), key)
}

// normalizeLanguage 规范化语言代码,zh-CN、ar-SA 等取主语言
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, supported := range []string{"zh", "en", "ar"} {
		if strings.HasPrefix(lang, supported) {
			return supported
		}
	}
	return lang
}

// parseAcceptLanguage 解析 Accept-Language: zh-CN,zh;q=0.9,en;q=0.8
func parseAcceptLanguage(header string) string {
	parts := strings.Split(header, ",")
	if len(parts) > 0 {
		lang := strings.TrimSpace(parts[0])
		if idx := strings.Index(lang, ";"); idx != -1 {
			lang = lang[:idx]
		}
		return normalizeLanguage(lang)
	}
	return "en"
}
