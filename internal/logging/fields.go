package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供 store/key/命中状态字段，供价格查询与缓存诊断日志复用。
func CacheFields(storeDir, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"store":     storeDir,
		"key":       key,
		"cache_hit": cacheHit,
	}
}

// RequestFields 提供请求 ID、方法、路径与状态码，供 HTTP 访问日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
