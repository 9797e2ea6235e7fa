package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"binance-regime-grid-go/internal/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 缺省字段取 `default` 标签的值, 之后整体校验。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &models.Config{}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("设置默认配置失败: %w", err)
	}

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	// 数组元素在解码时才创建, 需要单独补默认值
	for i := range config.Grids {
		if err := defaults.Set(&config.Grids[i]); err != nil {
			return nil, fmt.Errorf("设置网格默认配置失败: %w", err)
		}
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验配置的取值范围和网格之间的一致性
func Validate(config *models.Config) error {
	if err := validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s %s", e.Namespace(), e.Tag(), e.Param()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}

	seen := make(map[string]bool, len(config.Grids))
	for _, g := range config.Grids {
		if seen[g.Symbol] {
			return fmt.Errorf("配置校验失败: 交易对 %s 的网格重复", g.Symbol)
		}
		seen[g.Symbol] = true
		if g.BaseAsset+g.QuoteAsset != g.Symbol {
			return fmt.Errorf("配置校验失败: 交易对 %s 与资产 %s/%s 不一致", g.Symbol, g.BaseAsset, g.QuoteAsset)
		}
	}
	if len(config.Grids) == 0 && len(config.Strategy.Symbols) == 0 {
		return errors.New("配置校验失败: 至少需要一个网格或一个计划交易对")
	}
	return nil
}
