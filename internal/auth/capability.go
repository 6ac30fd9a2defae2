package auth

import (
	"encoding/json"
)

// Capability 单项能力
type Capability uint16

const (
	CapViewAll Capability = 1 << iota
	CapCreateTicket
	CapEditAny
	CapDelete
	CapReceiveIntake
	CapManageSettings
	CapSuperOverride

	allCapabilities = CapViewAll | CapCreateTicket | CapEditAny | CapDelete |
		CapReceiveIntake | CapManageSettings | CapSuperOverride
)

// 存储中的原始权限键
var rawPermissionKeys = []struct {
	key string
	flag Capability
}{
	{"accessAccounts", CapViewAll},
	{"addRepair", CapCreateTicket},
	{"editRepair", CapEditAny},
	{"deleteRepair", CapDelete},
	{"receiveDevice", CapReceiveIntake},
	{"settings", CapManageSettings},
	{"adminOverride", CapSuperOverride},
}

// Capabilities 归一化后的能力集合,每次请求由用户存储中的角色与权限计算得到
type Capabilities struct {
	set       Capability
	roleAdmin bool
}

// Resolve 由角色和原始权限计算能力集合
// permissions 为结构化权限,perms 为旧版自由格式权限(对象或字符串数组),
// 结构化权限非空时优先,否则使用旧版权限
func Resolve(role string, permissions, perms map[string]interface{}) Capabilities {
	src := permissions
	if len(src) == 0 {
		src = perms
	}

	var set Capability
	for _, k := range rawPermissionKeys {
		if ToBool(src[k.key]) {
			set |= k.flag
		}
	}

	// 收件与新建互相等价
	if set&(CapCreateTicket|CapReceiveIntake) != 0 {
		set |= CapCreateTicket | CapReceiveIntake
	}
	if set&CapSuperOverride != 0 {
		set = allCapabilities
	}

	return Capabilities{set: set, roleAdmin: role == "admin"}
}

// ToBool 原始权限值转换: true、1、"1"、"true"、"on"、"yes" 为真
func ToBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val == 1
	case int64:
		return val == 1
	case float64:
		return val == 1
	case json.Number:
		return val.String() == "1"
	case string:
		switch val {
		case "1", "true", "on", "yes":
			return true
		}
	}
	return false
}

// Has 判断是否拥有某项能力
func (c Capabilities) Has(flag Capability) bool {
	return c.set&flag == flag
}

// IsAdmin 管理员角色或拥有超级权限
func (c Capabilities) IsAdmin() bool {
	return c.roleAdmin || c.Has(CapSuperOverride)
}

// HasIntake 可以收件或新建维修单
func (c Capabilities) HasIntake() bool {
	return c.set&(CapCreateTicket|CapReceiveIntake) != 0
}

// CanEditAll 可以编辑任意维修单
func (c Capabilities) CanEditAll() bool {
	return c.IsAdmin() || c.Has(CapEditAny)
}

// CanDelete 可以删除维修单
func (c Capabilities) CanDelete() bool {
	return c.IsAdmin() || c.Has(CapDelete)
}

// CanManageSettings 可以管理部门等设置
func (c Capabilities) CanManageSettings() bool {
	return c.IsAdmin() || c.Has(CapManageSettings)
}

// MarshalJSON 输出原始键和派生标记,供前端使用
func (c Capabilities) MarshalJSON() ([]byte, error) {
	out := make(map[string]bool, len(rawPermissionKeys)+4)
	for _, k := range rawPermissionKeys {
		out[k.key] = c.Has(k.flag)
	}
	out["isAdmin"] = c.IsAdmin()
	out["hasIntake"] = c.HasIntake()
	out["canEditAll"] = c.CanEditAll()
	out["canDelete"] = c.CanDelete()
	return json.Marshal(out)
}

// FullPermissions 返回全部原始权限键为 true 的对象,用于初始化管理员
func FullPermissions() map[string]interface{} {
	out := make(map[string]interface{}, len(rawPermissionKeys))
	for _, k := range rawPermissionKeys {
		out[k.key] = true
	}
	return out
}
