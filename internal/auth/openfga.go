package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

// RelationClient 关系型授权存储
type RelationClient interface {
	CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error)
	SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error
	DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error
}

// OpenFGAClient OpenFGA 客户端
type OpenFGAClient struct {
	client  *client.OpenFgaClient
	storeID string
	modelID string
}

// NewOpenFGAClient 创建 OpenFGA 客户端
func NewOpenFGAClient(apiURL, storeID, modelID string) (*OpenFGAClient, error) {
	configuration := client.ClientConfiguration{
		ApiUrl:               apiURL,
		StoreId:              storeID,
		AuthorizationModelId: modelID,
		Credentials: &credentials.Credentials{
			Method: credentials.CredentialsMethodNone,
		},
	}

	fgaClient, err := client.NewSdkClient(&configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}

	return &OpenFGAClient{
		client:  fgaClient,
		storeID: storeID,
		modelID: modelID,
	}, nil
}

// NewOpenFGAClientWithRetry 带重试的 OpenFGA 客户端创建
func NewOpenFGAClientWithRetry(apiURL, storeID, modelID string, maxRetries int, retryInterval time.Duration) (*OpenFGAClient, error) {
	var fgaClient *OpenFGAClient
	var err error

	for i := 0; i < maxRetries; i++ {
		fgaClient, err = NewOpenFGAClient(apiURL, storeID, modelID)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err = fgaClient.client.Read(ctx).Execute()
			cancel()
			if err == nil {
				return fgaClient, nil
			}
		}

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to create OpenFGA client after %d retries: %w", maxRetries, err)
}

// CheckPermission 检查关系
func (c *OpenFGAClient) CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error) {
	body := client.ClientCheckRequest{
		User:     fmt.Sprintf("user:%s", userID),
		Relation: relation,
		Object:   fmt.Sprintf("%s:%s", objectType, objectID),
	}

	response, err := c.client.Check(ctx).Body(body).Execute()
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}

	return response.GetAllowed(), nil
}

// SetRelation 写入关系
func (c *OpenFGAClient) SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	body := client.ClientWriteRequest{
		Writes: []client.ClientTupleKey{
			{
				User:     fmt.Sprintf("user:%s", userID),
				Relation: relation,
				Object:   fmt.Sprintf("%s:%s", objectType, objectID),
			},
		},
	}

	if _, err := c.client.Write(ctx).Body(body).Execute(); err != nil {
		return fmt.Errorf("failed to set relation: %w", err)
	}
	return nil
}

// DeleteRelation 删除关系
func (c *OpenFGAClient) DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error {
	body := client.ClientWriteRequest{
		Deletes: []client.ClientTupleKeyWithoutCondition{
			{
				User:     fmt.Sprintf("user:%s", userID),
				Relation: relation,
				Object:   fmt.Sprintf("%s:%s", objectType, objectID),
			},
		},
	}

	if _, err := c.client.Write(ctx).Body(body).Execute(); err != nil {
		return fmt.Errorf("failed to delete relation: %w", err)
	}
	return nil
}

// CheckHealth 检查 OpenFGA 连接健康状态
func (c *OpenFGAClient) CheckHealth(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Read(ctx).Execute()
	return err == nil
}

// MonitorDirectory 基于关系存储的部门主管目录
type MonitorDirectory struct {
	relations RelationClient
}

// NewMonitorDirectory 创建部门主管目录
func NewMonitorDirectory(relations RelationClient) *MonitorDirectory {
	return &MonitorDirectory{relations: relations}
}

// IsMonitor 判断用户是否为部门主管
func (d *MonitorDirectory) IsMonitor(ctx context.Context, userID, departmentID string) (bool, error) {
	if userID == "" || departmentID == "" {
		return false, nil
	}
	return d.relations.CheckPermission(ctx, userID, RelationMonitor, ObjectTypeDepartment, departmentID)
}

// ReplaceMonitor 更换部门主管,previous 为空时只写入新关系
func (d *MonitorDirectory) ReplaceMonitor(ctx context.Context, departmentID, previous, next string) error {
	if previous != "" && previous != next {
		if err := d.relations.DeleteRelation(ctx, previous, RelationMonitor, ObjectTypeDepartment, departmentID); err != nil {
			return err
		}
	}
	if next == "" || previous == next {
		return nil
	}
	return d.relations.SetRelation(ctx, next, RelationMonitor, ObjectTypeDepartment, departmentID)
}
