package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ttlField 是写入文件的保留字段，值为 TTL 秒数。读取时按字段名查找，不依赖字段顺序。
const ttlField = "expired"

// encodeEntry 将 payload 与 TTL 合并编码。负 TTL 按 0 处理，即写入即过期。
func encodeEntry(payload Payload, ttl time.Duration) ([]byte, error) {
	if _, exists := payload[ttlField]; exists {
		return nil, ErrReservedField
	}

	doc := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc[ttlField] = ttlSeconds(ttl)

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// decodeEntry 解析文件内容并取出 TTL；任何格式问题都以带路径的 ErrCorruptEntry 返回，不会被当成未命中。
func decodeEntry(path string, data []byte) (Payload, time.Duration, error) {
	corrupt := func(reason string) error {
		return &Error{Op: "decode", Path: path, Err: fmt.Errorf("%w: %s", ErrCorruptEntry, reason)}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, corrupt(err.Error())
	}
	if doc == nil {
		return nil, 0, corrupt("not an object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, 0, corrupt("trailing data after object")
	}

	raw, ok := doc[ttlField]
	if !ok {
		return nil, 0, corrupt(`missing "expired" field`)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return nil, 0, corrupt(`"expired" is not a number`)
	}
	seconds, err := num.Int64()
	if err != nil {
		return nil, 0, corrupt(`"expired" is not an integer`)
	}
	if seconds > math.MaxInt64/int64(time.Second) {
		return nil, 0, corrupt(`"expired" out of range`)
	}
	delete(doc, ttlField)

	return Payload(doc), time.Duration(seconds) * time.Second, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64(ttl / time.Second)
}
