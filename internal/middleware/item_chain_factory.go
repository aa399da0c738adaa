package middleware

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/pipeline"
)

// BuildItemChain turns the configured item-chain entries into ItemMiddleware,
// in configuration order, ready for Manager.Register. Unknown names are a
// configuration error caught at startup rather than silently ignored.
func BuildItemChain(entries []config.ItemMiddlewareEntry, logger *slog.Logger) ([]ItemMiddleware, error) {
	chain := make([]ItemMiddleware, 0, len(entries))
	for _, entry := range entries {
		mw, err := buildItemMiddleware(entry, logger)
		if err != nil {
			return nil, fmt.Errorf("item chain entry %q: %w", entry.Name, err)
		}
		chain = append(chain, AdaptPipeline(mw))
	}
	return chain, nil
}

func buildItemMiddleware(entry config.ItemMiddlewareEntry, logger *slog.Logger) (pipeline.Middleware, error) {
	opts := entry.Options
	switch entry.Name {
	case "trim":
		return &pipeline.TrimMiddleware{}, nil
	case "required_fields":
		return &pipeline.RequiredFieldsMiddleware{Fields: stringSlice(opts["fields"])}, nil
	case "field_filter":
		fields := make(map[string]bool)
		for _, f := range stringSlice(opts["fields"]) {
			fields[f] = true
		}
		return &pipeline.FieldFilterMiddleware{Fields: fields}, nil
	case "field_rename":
		return &pipeline.FieldRenameMiddleware{Mapping: stringMap(opts["mapping"])}, nil
	case "default_values":
		defaults, _ := opts["defaults"].(map[string]any)
		return &pipeline.DefaultValueMiddleware{Defaults: defaults}, nil
	case "dedup":
		key, _ := opts["key"].(string)
		if key == "" {
			key = "url"
		}
		return pipeline.NewDedupMiddleware(key), nil
	case "html_sanitize":
		return pipeline.NewHTMLSanitizeMiddleware(), nil
	case "date_normalize":
		format, _ := opts["format"].(string)
		return pipeline.NewDateNormalizeMiddleware(stringSlice(opts["fields"]), format), nil
	case "currency_normalize":
		return pipeline.NewCurrencyNormalizeMiddleware(stringSlice(opts["fields"])), nil
	case "type_coercion":
		return pipeline.NewTypeCoercionMiddleware(stringMap(opts["coercions"])), nil
	case "pii_redact":
		return pipeline.NewPIIRedactMiddleware(logger), nil
	case "field_validate":
		dropInvalid, _ := opts["drop_invalid"].(bool)
		return pipeline.NewFieldValidateMiddleware(stringMap(opts["patterns"]), dropInvalid)
	case "word_count":
		return pipeline.NewWordCountMiddleware(stringSlice(opts["fields"])), nil
	default:
		return nil, fmt.Errorf("unknown item middleware %q", entry.Name)
	}
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringMap(v any) map[string]string {
	switch vv := v.(type) {
	case map[string]string:
		return vv
	case map[string]any:
		out := make(map[string]string, len(vv))
		for k, e := range vv {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
