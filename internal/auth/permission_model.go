package auth

// 部门主管关系
const (
	RelationMonitor      = "monitor"
	ObjectTypeDepartment = "department"
)

// GetPermissionModel 获取 OpenFGA 权限模型定义
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type department
  relations
    define monitor: [user]
    define member: [user] or monitor`
}
