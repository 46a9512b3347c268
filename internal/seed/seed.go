// Package seed populates a fresh installation with the system tools, a
// small sample catalogue, and demo sales data. Every write is idempotent so
// the seed can run on every startup.
package seed

import (
	"fmt"

	"go.uber.org/zap"

	"chameleon/internal/host"
	"chameleon/internal/store"
	"chameleon/internal/tool"
)

// Persona is the persona the sample catalogue is registered under.
const Persona = "default"

// AssistantPersona holds the math tools, demonstrating persona scoping: a
// server configured for "default" never lists them.
const AssistantPersona = "assistant"

// Apply seeds the metadata store and, when the data store is connected, the
// sample sales table.
func Apply(meta *store.MetaStore, data *store.DataStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := seedSystemTools(meta); err != nil {
		return fmt.Errorf("seed system tools: %w", err)
	}
	if err := seedSampleTools(meta); err != nil {
		return fmt.Errorf("seed sample tools: %w", err)
	}
	if err := seedResources(meta); err != nil {
		return fmt.Errorf("seed resources: %w", err)
	}
	if err := seedPrompts(meta); err != nil {
		return fmt.Errorf("seed prompts: %w", err)
	}
	if err := seedMacros(meta); err != nil {
		return fmt.Errorf("seed macros: %w", err)
	}
	if err := seedIcons(meta); err != nil {
		return fmt.Errorf("seed icons: %w", err)
	}

	if data != nil && data.Connected() {
		if err := data.EnsureSalesTable(); err != nil {
			return fmt.Errorf("create sales table: %w", err)
		}
		if err := data.InsertSales(sampleSales()); err != nil {
			return fmt.Errorf("seed sales data: %w", err)
		}
	} else {
		logger.Warn("data store offline, skipping sales data seed")
	}

	logger.Info("seed complete", zap.String("persona", Persona))
	return nil
}

// seedSystemTools creates one registry row per registered system tool
// factory. The vault blob is a marker; dispatch resolves these tools through
// the factory registry, not the interpreter.
func seedSystemTools(meta *store.MetaStore) error {
	for _, d := range tool.Definitions() {
		hash, err := meta.UpsertCode(host.MarkerBlob(d.Name), store.CodeTypeProcedural)
		if err != nil {
			return err
		}
		err = meta.UpsertTool(&store.Tool{
			ToolName:      d.Name,
			TargetPersona: Persona,
			Description:   d.Description,
			InputSchema:   d.InputSchema,
			ActiveHashRef: hash,
			Group:         d.Group,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const greetCode = `import "fmt"

func Run(args map[string]interface{}) (interface{}, error) {
	name, _ := args["name"].(string)
	if name == "" {
		name = "stranger"
	}
	return fmt.Sprintf("Hello %s! I am running from the database.", name), nil
}

func Complete(argument, prefix string) []string {
	if argument != "name" {
		return nil
	}
	candidates := []string{
		"Alice", "Bob", "Carol", "Dave", "Erin",
		"Frank", "Grace", "Heidi", "Ivan", "Judy",
	}
	var out []string
	for _, c := range candidates {
		if len(prefix) <= len(c) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}
`

const mathAddCode = `func Run(args map[string]interface{}) (interface{}, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	return a + b, nil
}
`

const mathMultiplyCode = `func Run(args map[string]interface{}) (interface{}, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	return a * b, nil
}
`

func numberProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func objectSchema(required []interface{}, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func seedSampleTools(meta *store.MetaStore) error {
	sales := meta.Tables().SalesPerDay

	summarySQL := "SELECT store_name, department, SUM(sales_amount) AS total_sales,\n" +
		"COUNT(*) AS transaction_count\n" +
		"FROM " + sales + "\n" +
		"WHERE 1=1\n" +
		"{% if arguments.store_name %}AND store_name = :store_name{% endif %}\n" +
		"{% if arguments.department %}AND department = :department{% endif %}\n" +
		"GROUP BY store_name, department\nORDER BY store_name, department"

	byStoreSQL := "SELECT business_date, department, sales_amount\n" +
		"FROM " + sales + "\n" +
		"WHERE store_name = :store_name\n" +
		"ORDER BY business_date, department"

	type sample struct {
		name, description, code, codeType string
		schema                            map[string]interface{}
		manual                            map[string]interface{}
		group                             string
		persona                           string
	}

	samples := []sample{
		{
			name:        "utility_greet",
			description: "Greet someone by name. Demonstrates a procedural tool with argument completion.",
			code:        greetCode,
			codeType:    store.CodeTypeProcedural,
			schema: objectSchema(nil, map[string]interface{}{
				"name": stringProp("Who to greet"),
			}),
			manual: map[string]interface{}{
				"usage_guide": "Pass 'name' to personalize the greeting. Without it you get the stranger greeting.",
				"examples": []interface{}{
					map[string]interface{}{
						"description": "Greet Alice",
						"input":       map[string]interface{}{"name": "Alice"},
						"verified":    true,
						"source":      "Seed",
					},
				},
			},
			group: "utility",
		},
		{
			name:        "math_add",
			description: "Add two numbers.",
			code:        mathAddCode,
			codeType:    store.CodeTypeProcedural,
			schema: objectSchema([]interface{}{"a", "b"}, map[string]interface{}{
				"a": numberProp("First addend"),
				"b": numberProp("Second addend"),
			}),
			group:   "utility",
			persona: AssistantPersona,
		},
		{
			name:        "math_multiply",
			description: "Multiply two numbers.",
			code:        mathMultiplyCode,
			codeType:    store.CodeTypeProcedural,
			schema: objectSchema([]interface{}{"a", "b"}, map[string]interface{}{
				"a": numberProp("First factor"),
				"b": numberProp("Second factor"),
			}),
			group:   "utility",
			persona: AssistantPersona,
		},
		{
			name:        "data_get_sales_summary",
			description: "Sales totals and transaction counts per store and department, optionally filtered.",
			code:        summarySQL,
			codeType:    store.CodeTypeSQLSelect,
			schema: objectSchema(nil, map[string]interface{}{
				"store_name": stringProp("Restrict the summary to this store"),
				"department": stringProp("Restrict the summary to this department"),
			}),
			manual: map[string]interface{}{
				"usage_guide": "Call without arguments for all stores. Pass 'store_name' and/or 'department' to narrow the summary.",
				"examples": []interface{}{
					map[string]interface{}{
						"description": "All stores",
						"input":       map[string]interface{}{},
						"verified":    true,
						"source":      "Seed",
					},
					map[string]interface{}{
						"description": "One store",
						"input":       map[string]interface{}{"store_name": "Store A"},
						"verified":    true,
						"source":      "Seed",
					},
				},
				"pitfalls": []interface{}{
					"store_name must match exactly; completion on the argument lists known stores.",
				},
			},
			group: "data",
		},
		{
			name:        "get_sales_by_store",
			description: "Daily per-department sales for one store.",
			code:        byStoreSQL,
			codeType:    store.CodeTypeSQLSelect,
			schema: objectSchema([]interface{}{"store_name"}, map[string]interface{}{
				"store_name": stringProp("Store to report on"),
			}),
			group: "data",
		},
		{
			name:        "dashboard_sales_overview",
			description: "Open the sales overview dashboard in the UI.",
			code:        "sales overview dashboard\n",
			codeType:    store.CodeTypeDashboard,
			schema:      objectSchema(nil, map[string]interface{}{}),
			group:       "dashboard",
		},
	}

	for _, s := range samples {
		persona := s.persona
		if persona == "" {
			persona = Persona
		}
		hash, err := meta.UpsertCode(s.code, s.codeType)
		if err != nil {
			return err
		}
		err = meta.UpsertTool(&store.Tool{
			ToolName:         s.name,
			TargetPersona:    persona,
			Description:      s.description,
			InputSchema:      s.schema,
			ActiveHashRef:    hash,
			Group:            s.group,
			ExtendedMetadata: s.manual,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const timeResourceCode = `import "time"

func Run(args map[string]interface{}) (interface{}, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}
`

func seedResources(meta *store.MetaStore) error {
	hash, err := meta.UpsertCode(timeResourceCode, store.CodeTypeProcedural)
	if err != nil {
		return err
	}

	resources := []*store.Resource{
		{
			URISchema:   "info://about",
			Name:        "about",
			Description: "What this server is and how its catalogue works.",
			MimeType:    "text/plain",
			StaticContent: "Chameleon Engine: tools live in a metadata database and are " +
				"dispatched on demand. Use system_inspect_tool to read any tool's manual.",
			TargetPersona: Persona,
			Group:         "info",
		},
		{
			URISchema:     "system://time",
			Name:          "server-time",
			Description:   "Current server time, UTC, RFC 3339.",
			MimeType:      "text/plain",
			IsDynamic:     true,
			ActiveHashRef: hash,
			TargetPersona: Persona,
			Group:         "system",
		},
		{
			URISchema:   "data://sales/recent",
			Name:        "recent-sales",
			Description: "How to query the sample sales data.",
			MimeType:    "text/plain",
			StaticContent: "The sample sales table has columns business_date, store_name, " +
				"department, sales_amount. Query it with data_get_sales_summary or " +
				"get_sales_by_store.",
			TargetPersona: Persona,
			Group:         "data",
		},
	}
	for _, r := range resources {
		if err := meta.UpsertResource(r); err != nil {
			return err
		}
	}
	return nil
}

func seedPrompts(meta *store.MetaStore) error {
	prompts := []*store.Prompt{
		{
			Name:        "review_code",
			Description: "Ask for a focused code review.",
			Template: "Review the following {{ language }} code. Point out bugs first, " +
				"style second.\n\n{{ code }}",
			ArgumentsSchema: objectSchema([]interface{}{"code"}, map[string]interface{}{
				"language": stringProp("Language of the snippet"),
				"code":     stringProp("Code to review"),
			}),
			TargetPersona: Persona,
		},
		{
			Name:        "summarize",
			Description: "Ask for a short summary of a text.",
			Template:    "Summarize the following in at most three sentences:\n\n{{ text }}",
			ArgumentsSchema: objectSchema([]interface{}{"text"}, map[string]interface{}{
				"text": stringProp("Text to summarize"),
			}),
			TargetPersona: Persona,
		},
	}
	for _, p := range prompts {
		if err := meta.UpsertPrompt(p); err != nil {
			return err
		}
	}
	return nil
}

func seedMacros(meta *store.MetaStore) error {
	return meta.UpsertMacro(&store.Macro{
		Name:        "safe_div",
		Description: "Division that yields 0 instead of dividing by zero.",
		Template: "{% macro safe_div(n, d) %}" +
			"CASE WHEN {{ d }} = 0 THEN 0 ELSE {{ n }} * 1.0 / {{ d }} END" +
			"{% endmacro %}",
		IsActive: true,
	})
}

func seedIcons(meta *store.MetaStore) error {
	return meta.UpsertIcon(&store.Icon{
		IconName: "default",
		MimeType: "image/svg+xml",
		Content: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16">` +
			`<circle cx="8" cy="8" r="7" fill="#3aa655"/></svg>`,
	})
}

// sampleSales is three stores times three departments over a few business
// days, enough for the summary and completion demos.
func sampleSales() []store.SalesRow {
	return []store.SalesRow{
		{BusinessDate: "2026-08-18", StoreName: "Store A", Department: "Electronics", SalesAmount: 1500.50},
		{BusinessDate: "2026-08-18", StoreName: "Store A", Department: "Clothing", SalesAmount: 820.00},
		{BusinessDate: "2026-08-18", StoreName: "Store A", Department: "Groceries", SalesAmount: 310.40},
		{BusinessDate: "2026-08-18", StoreName: "Store B", Department: "Electronics", SalesAmount: 990.10},
		{BusinessDate: "2026-08-18", StoreName: "Store B", Department: "Groceries", SalesAmount: 430.25},
		{BusinessDate: "2026-08-19", StoreName: "Store A", Department: "Electronics", SalesAmount: 1275.00},
		{BusinessDate: "2026-08-19", StoreName: "Store B", Department: "Clothing", SalesAmount: 512.80},
		{BusinessDate: "2026-08-19", StoreName: "Store B", Department: "Groceries", SalesAmount: 389.90},
		{BusinessDate: "2026-08-19", StoreName: "Store C", Department: "Clothing", SalesAmount: 615.75},
		{BusinessDate: "2026-08-19", StoreName: "Store C", Department: "Electronics", SalesAmount: 845.60},
		{BusinessDate: "2026-08-20", StoreName: "Store A", Department: "Clothing", SalesAmount: 740.20},
		{BusinessDate: "2026-08-20", StoreName: "Store B", Department: "Electronics", SalesAmount: 1105.35},
		{BusinessDate: "2026-08-20", StoreName: "Store C", Department: "Groceries", SalesAmount: 298.45},
		{BusinessDate: "2026-08-20", StoreName: "Store C", Department: "Electronics", SalesAmount: 932.15},
		{BusinessDate: "2026-08-20", StoreName: "Store C", Department: "Clothing", SalesAmount: 477.90},
	}
}
