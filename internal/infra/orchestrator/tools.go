package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"

	"mcpgate/internal/domain"
)

// toolInfos converts discovered tool descriptors into the model's tool
// binding format. A descriptor whose schema cannot be converted is bound
// without parameters rather than dropped; the model can still call it.
func toolInfos(tools []domain.ToolDescriptor) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		info := &schema.ToolInfo{
			Name: tool.Name,
			Desc: tool.Description,
		}
		if params, err := paramsFromSchema(tool.InputSchema); err == nil {
			info.ParamsOneOf = params
		}
		infos = append(infos, info)
	}
	return infos
}

func paramsFromSchema(inputSchema any) (*schema.ParamsOneOf, error) {
	if inputSchema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	js := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, js); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return schema.NewParamsOneOfByJSONSchema(js), nil
}

// decodeToolArguments parses the model's tool-call argument payload. Models
// occasionally emit empty arguments for zero-parameter tools.
func decodeToolArguments(arguments string) (map[string]any, error) {
	if arguments == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}
