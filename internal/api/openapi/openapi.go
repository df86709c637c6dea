// Пакет openapi — встроенное описание HTTP API InstaShare.
// Документ загружается и валидируется kin-openapi при старте сервера.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Document — загруженное описание API.
type Document struct {
	spec *openapi3.T
	json []byte
}

// Load разбирает встроенный openapi.yaml и проверяет его валидность.
func Load(ctx context.Context) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	spec, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора openapi.yaml: %w", err)
	}
	if err := spec.Validate(ctx); err != nil {
		return nil, fmt.Errorf("невалидный openapi.yaml: %w", err)
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации OpenAPI в JSON: %w", err)
	}
	return &Document{spec: spec, json: data}, nil
}

// JSON — документ в формате JSON для /api/docs/openapi.json.
func (d *Document) JSON() []byte {
	return d.json
}

// Version — info.version документа.
func (d *Document) Version() string {
	return d.spec.Info.Version
}

// Operations возвращает описанные операции в виде "METHOD /path",
// отсортированные по пути.
func (d *Document) Operations() []string {
	var ops []string
	for path, item := range d.spec.Paths.Map() {
		for method := range item.Operations() {
			ops = append(ops, strings.ToUpper(method)+" "+path)
		}
	}
	sort.Strings(ops)
	return ops
}

// HasOperation сообщает, описана ли операция method path.
func (d *Document) HasOperation(method, path string) bool {
	item := d.spec.Paths.Find(path)
	if item == nil {
		return false
	}
	return item.GetOperation(strings.ToUpper(method)) != nil
}
