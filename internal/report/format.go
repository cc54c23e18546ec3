// Package report formats a merged engine.StatusStore into the persisted
// report schema and writes it to stdout, JSON, or YAML depending on the
// output target's extension.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dnssnd/snd/internal/engine"
)

// ItemKeyValue is a named counter, used everywhere a report needs to list a
// map by a human-readable key instead of its raw numeric type/code.
type ItemKeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value uint64 `json:"value" yaml:"value"`
}

// ItemKeyValueRate is ItemKeyValue plus a percentage of some denominator
// counted elsewhere (response_type's rate is receives-by-type over
// sends-by-type for that same type).
type ItemKeyValueRate struct {
	Key   string  `json:"key" yaml:"key"`
	Value uint64  `json:"value" yaml:"value"`
	Rate  float64 `json:"rate" yaml:"rate"`
}

// Basic mirrors the persisted report's top-level "basic" object.
type Basic struct {
	ResponseCode  []ItemKeyValue `json:"response_code" yaml:"response_code"`
	Duration      float64        `json:"duration" yaml:"duration"`
	QueryTotal    uint64         `json:"query_total" yaml:"query_total"`
	ResponseTotal uint64         `json:"response_total" yaml:"response_total"`
	QPS           uint64         `json:"qps" yaml:"qps"`
	QueryRate     float64        `json:"query_rate" yaml:"query_rate"`
	MinLantency   float64        `json:"min_lantency" yaml:"min_lantency"`
	MaxLantency   float64        `json:"max_lantency" yaml:"max_lantency"`
	MeanLantency  float64        `json:"mean_lantency" yaml:"mean_lantency"`
	P99           float64        `json:"p99" yaml:"p99"`
	P95           float64        `json:"p95" yaml:"p95"`
	P90           float64        `json:"p90" yaml:"p90"`
	P50           float64        `json:"p50" yaml:"p50"`
}

// Extension mirrors the persisted report's top-level "extension" object.
type Extension struct {
	QueryType        []ItemKeyValue     `json:"query_type" yaml:"query_type"`
	ResponseType     []ItemKeyValueRate `json:"response_type" yaml:"response_type"`
	AnswerResult     []ItemKeyValue     `json:"answer_result" yaml:"answer_result"`
	AdditionalResult []ItemKeyValue     `json:"additional_result" yaml:"additional_result"`
	AuthorityResult  []ItemKeyValue     `json:"authority_result" yaml:"authority_result"`
}

// Document is the full persisted report object.
type Document struct {
	Basic     Basic     `json:"basic" yaml:"basic"`
	Extension Extension `json:"extension" yaml:"extension"`
}

// Build computes a Document from a merged StatusStore. The report's duration
// is the store's send_duration in seconds; it is 0 when no worker sent a
// query, and qps is then reported as 0.
func Build(store *engine.StatusStore) Document {
	duration := store.SendDuration.Seconds()

	var qps uint64
	if duration > 0 {
		qps = uint64(float64(store.QueryTotal) / duration)
	}

	var queryRate float64
	if store.QueryTotal > 0 {
		queryRate = float64(store.ReceiveTotal) * 100.0 / float64(store.QueryTotal)
	}

	basic := Basic{
		ResponseCode:  formatRCodeMap(store.ReplyCode),
		Duration:      duration,
		QueryTotal:    store.QueryTotal,
		ResponseTotal: store.ReceiveTotal,
		QPS:           qps,
		QueryRate:     queryRate,
	}
	if store.Histogram != nil {
		h := store.Histogram
		basic.MinLantency = h.Min
		basic.MaxLantency = h.Max
		basic.MeanLantency = h.Mean
		basic.P99 = h.P99
		basic.P95 = h.P95
		basic.P90 = h.P90
		basic.P50 = h.P50
	}

	extension := Extension{
		QueryType:        formatQTypeMap(store.QueryType),
		ResponseType:     formatResponseTypeMap(store.ResponseQueryType, store.QueryType),
		AnswerResult:     formatQTypeMap(store.AnswerType),
		AdditionalResult: formatQTypeMap(store.AdditionalType),
		AuthorityResult:  formatQTypeMap(store.AuthorityType),
	}

	return Document{Basic: basic, Extension: extension}
}

func formatQTypeMap(m map[uint16]uint64) []ItemKeyValue {
	keys := sortedUint16Keys(m)
	out := make([]ItemKeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, ItemKeyValue{Key: engine.QTypeName(k), Value: m[k]})
	}
	return out
}

func formatResponseTypeMap(responses, sent map[uint16]uint64) []ItemKeyValueRate {
	keys := sortedUint16Keys(responses)
	out := make([]ItemKeyValueRate, 0, len(keys))
	for _, k := range keys {
		rate := 0.0
		if total, ok := sent[k]; ok && total > 0 {
			rate = float64(responses[k]) * 100.0 / float64(total)
		}
		out = append(out, ItemKeyValueRate{Key: engine.QTypeName(k), Value: responses[k], Rate: rate})
	}
	return out
}

func formatRCodeMap(m map[uint8]uint64) []ItemKeyValue {
	keys := make([]uint8, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]ItemKeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, ItemKeyValue{Key: engine.RCodeName(k), Value: m[k]})
	}
	return out
}

func sortedUint16Keys(m map[uint16]uint64) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PrintInterval renders a running, not-yet-final StatusStore the same way a
// final report would be, for the periodic stdout reports --interval drives.
// It reuses Build/FormatText rather than a separate "short form": a running
// report has the exact same schema as the final one, just computed over a
// smaller window.
func PrintInterval(store *engine.StatusStore) {
	fmt.Println(FormatText(Build(store)))
}

// WriteTo renders doc to target: "stdout" prints the human-readable basic
// summary, a ".json"/".yaml" suffix picks the matching structured encoder,
// anything else falls back to the stdout summary.
func WriteTo(target string, doc Document) error {
	lower := strings.ToLower(strings.TrimSpace(target))
	switch {
	case lower == "" || lower == "stdout":
		fmt.Println(FormatText(doc))
		return nil
	case strings.HasSuffix(lower, ".json"):
		return writeFile(target, doc, json.MarshalIndent)
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return writeFile(target, doc, func(v any, _, _ string) ([]byte, error) {
			return yaml.Marshal(v)
		})
	default:
		fmt.Println(FormatText(doc))
		return nil
	}
}

func writeFile(path string, doc Document, marshal func(v any, prefix, indent string) ([]byte, error)) error {
	b, err := marshal(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// FormatText renders the same human-readable summary this tool has always
// printed to stdout, now driven by the Go report Document instead of a
// direct StatusStore read.
func FormatText(doc Document) string {
	var query []string
	for _, kv := range doc.Extension.QueryType {
		query = append(query, fmt.Sprintf("%s=%d", kv.Key, kv.Value))
	}
	var responseCode []string
	for _, kv := range doc.Basic.ResponseCode {
		responseCode = append(responseCode, fmt.Sprintf("%s=%d", kv.Key, kv.Value))
	}

	return fmt.Sprintf(`------------   Report   --------------
      Total Cost: %s
     Total Query: %d
        Question: %s
  Total Response: %d
   Response Code: %s
    Success Rate: %.2f%%
     Average QPS: %.0f
     Min Latency: %s
     Max Latency: %s
    Mean Latency: %s
     99%% Latency: %s
     95%% Latency: %s
     90%% Latency: %s
     50%% Latency: %s`,
		time.Duration(doc.Basic.Duration*float64(time.Second)),
		doc.Basic.QueryTotal,
		strings.Join(query, ","),
		doc.Basic.ResponseTotal,
		strings.Join(responseCode, ","),
		doc.Basic.QueryRate,
		float64(doc.Basic.QPS),
		time.Duration(doc.Basic.MinLantency*float64(time.Second)),
		time.Duration(doc.Basic.MaxLantency*float64(time.Second)),
		time.Duration(doc.Basic.MeanLantency*float64(time.Second)),
		time.Duration(doc.Basic.P99*float64(time.Second)),
		time.Duration(doc.Basic.P95*float64(time.Second)),
		time.Duration(doc.Basic.P90*float64(time.Second)),
		time.Duration(doc.Basic.P50*float64(time.Second)),
	)
}
