package catalog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandConfigEnv substitutes ${VAR} references in the raw catalog YAML with
// environment values before viper sees it. Substitution works on the parsed
// node tree rather than the raw bytes so that only scalar values are touched;
// keys, anchors, and structure stay intact. References to unset variables
// expand to the empty string and are reported back so the loader can warn.
func expandConfigEnv(raw []byte) (string, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", nil, fmt.Errorf("parse config: %w", err)
	}

	ex := &envExpander{missing: make(map[string]struct{})}
	ex.walk(&root)

	expanded, err := yaml.Marshal(&root)
	if err != nil {
		return "", nil, fmt.Errorf("encode expanded config: %w", err)
	}
	return string(expanded), ex.missingVars(), nil
}

// envExpander rewrites scalar nodes in place and remembers which variables
// were referenced but unset.
type envExpander struct {
	missing map[string]struct{}
}

func (ex *envExpander) walk(node *yaml.Node) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			ex.walk(child)
		}
	case yaml.MappingNode:
		// Values only; keys are never expanded.
		for i := 1; i < len(node.Content); i += 2 {
			ex.walk(node.Content[i])
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			ex.walk(node.Alias)
		}
	case yaml.ScalarNode:
		ex.rewriteScalar(node)
	}
}

func (ex *envExpander) rewriteScalar(node *yaml.Node) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}

	expanded := ex.substitute(node.Value)
	if expanded == node.Value {
		return
	}

	// Quoted scalars stay strings no matter what the value looks like.
	if node.Style != 0 {
		node.Tag = "!!str"
		node.Value = expanded
		return
	}

	node.Tag, node.Value = retagExpandedValue(expanded)
}

func (ex *envExpander) substitute(value string) string {
	return os.Expand(value, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		ex.missing[key] = struct{}{}
		return ""
	})
}

func (ex *envExpander) missingVars() []string {
	if len(ex.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(ex.missing))
	for name := range ex.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// retagExpandedValue re-resolves the YAML tag of an unquoted scalar after
// substitution, so "${MAX_ROUNDS}" expanding to "12" decodes as an int.
func retagExpandedValue(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}

	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case int64:
		return "!!int", strconv.FormatInt(v, 10)
	case uint64:
		return "!!int", strconv.FormatUint(v, 10)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
