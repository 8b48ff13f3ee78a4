package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList JSON 数组列, 存储签核人/通知人列表
type StringList []string

// 实现 sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = []string{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	if len(bytes) == 0 {
		*l = []string{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
