// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"context"
	"os"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/nacos"
)

// LoadConfig 读取本地文件与环境变量；设置了 NACOS_SERVER_ADDRS 时再叠加配置中心的 yaml。
// 返回的 nacos.Client 用于后续的服务注册，未配置 Nacos 时为 nil。
func LoadConfig(serviceName, path string) (*config.Config, *nacos.Client, error) {
	addrs := getEnv("NACOS_SERVER_ADDRS", "")
	if addrs == "" {
		cfg, err := config.Load(serviceName, path, nil)
		return cfg, nil, err
	}

	client, err := nacos.NewNacosClient(addrs, getEnv("NACOS_NAMESPACE", ""), getEnv("NACOS_GROUP", nacos.DefaultGroup))
	if err != nil {
		return nil, nil, err
	}

	dataID := getEnv("NACOS_DATA_ID", serviceName+".yaml")
	remote, err := client.GetConfig(dataID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if remote == "" {
		logger.Ctx(context.Background()).Warn().Str("data_id", dataID).Msg("Remote config is empty, using local config only")
	}

	cfg, err := config.Load(serviceName, path, []byte(remote))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return cfg, client, nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
