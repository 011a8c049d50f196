package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// envField 是一个可由环境变量覆盖的叶子字段
type envField struct {
	key   string
	index []int
	typ   reflect.Type
}

// envFields 按 env 标签展开配置结构，嵌套结构体以 "_" 连接
func envFields(t reflect.Type, prefix string, parent []int) []envField {
	var out []envField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("env")
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		key := prefix + "_" + tag
		index := append(append([]int(nil), parent...), i)
		if f.Type.Kind() == reflect.Struct && f.Type != durationType {
			out = append(out, envFields(f.Type, key, index)...)
			continue
		}
		out = append(out, envField{key: key, index: index, typ: f.Type})
	}
	return out
}

// EnvKeys 列出全部支持的环境变量名（已排序）
func EnvKeys(prefix string) []string {
	fields := envFields(reflect.TypeOf(Config{}), prefix, nil)
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	sort.Strings(keys)
	return keys
}

// applyEnv 把已设置且非空的环境变量写入 cfg，返回生效的键；
// 所有解析错误一并返回
func applyEnv(cfg *Config, prefix string, lookup func(string) (string, bool)) ([]string, error) {
	root := reflect.ValueOf(cfg).Elem()
	var (
		applied []string
		errs    []error
	)
	for _, f := range envFields(root.Type(), prefix, nil) {
		raw, ok := lookup(f.key)
		if !ok || raw == "" {
			continue
		}
		v, err := parseEnvValue(f.typ, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", f.key, raw, err))
			continue
		}
		root.FieldByIndex(f.index).Set(v)
		applied = append(applied, f.key)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config from env: %w", errors.Join(errs...))
	}
	return applied, nil
}

func parseEnvValue(t reflect.Type, raw string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch {
	case t == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return v, err
		}
		v.SetInt(int64(d))
	case t.Kind() == reflect.String:
		v.SetString(raw)
	case t.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case v.CanInt():
		i, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(i)
	case v.CanUint():
		u, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(u)
	case v.CanFloat():
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetFloat(f)
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		// 逗号分隔，空项丢弃
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return v, fmt.Errorf("unsupported type %s", t)
	}
	return v, nil
}
