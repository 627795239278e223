package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// recordIDKeys are the data fields that identify the record a notification
// is about, in lookup order.
var recordIDKeys = []string{"leadId", "lead_id", "recordId"}

// NormalizerConfig holds the display defaults.
type NormalizerConfig struct {
	AppName      string
	DefaultIcon  string
	DefaultBadge string
}

// Normalizer turns any upstream push payload into a Payload. The same
// precedence applies in the background and foreground paths.
type Normalizer struct {
	cfg NormalizerConfig
	now func() time.Time
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.AppName == "" {
		cfg.AppName = DefaultTitle
	}
	return &Normalizer{cfg: cfg, now: time.Now}
}

// Normalize never fails. Unparseable input becomes the body of a
// notification with the default title.
func (n *Normalizer) Normalize(raw []byte) (p *Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("normalizer panicked, using fallback notification", "panic", fmt.Sprint(r))
			p = n.fromText("")
		}
	}()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return n.fromText("")
	}

	doc, err := decodeJSON(trimmed)
	if err != nil {
		slog.Debug("push payload is not json, treating as text", "error", err)
		return n.fromText(string(trimmed))
	}

	switch v := doc.(type) {
	case map[string]any:
		return n.fromObject(v)
	case string:
		return n.fromText(v)
	case nil:
		return n.fromText("")
	default:
		return n.fromText(string(trimmed))
	}
}

func (n *Normalizer) fromText(text string) *Payload {
	return &Payload{
		Title: n.cfg.AppName,
		Body:  firstNonEmpty(strings.TrimSpace(text), DefaultBody),
		Icon:  n.cfg.DefaultIcon,
		Badge: n.cfg.DefaultBadge,
		Tag:   n.fallbackTag(),
		Data:  map[string]any{},
	}
}

func (n *Normalizer) fromObject(doc map[string]any) *Payload {
	nested, _ := doc["notification"].(map[string]any)
	data, _ := doc["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	return &Payload{
		Title:              firstNonEmpty(field(doc, "title"), field(nested, "title"), n.cfg.AppName),
		Body:               firstNonEmpty(field(doc, "body"), field(nested, "body"), field(doc, "message"), DefaultBody),
		Icon:               firstNonEmpty(field(doc, "icon"), field(nested, "icon"), n.cfg.DefaultIcon),
		Badge:              firstNonEmpty(field(doc, "badge"), field(nested, "badge"), n.cfg.DefaultBadge),
		Tag:                n.tag(data, field(doc, "tag")),
		Data:               data,
		RequireInteraction: cast.ToBool(doc["requireInteraction"]),
		Silent:             cast.ToBool(doc["silent"]),
	}
}

// tag groups repeated notifications about the same record so the OS replaces
// rather than stacks them.
func (n *Normalizer) tag(data map[string]any, explicit string) string {
	for _, key := range recordIDKeys {
		if id := field(data, key); id != "" {
			return "lead-" + id
		}
	}
	if explicit != "" {
		return explicit
	}
	return n.fallbackTag()
}

func (n *Normalizer) fallbackTag() string {
	return fmt.Sprintf("notification-%d", n.now().UnixMilli())
}

// decodeJSON decodes one JSON value. Numbers stay json.Number so record ids
// beyond 2^53 keep every digit.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after json value")
	}
	return doc, nil
}

// field reads a scalar as a trimmed string. Objects and arrays read as "".
func field(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case json.Number:
		return v.String()
	case string, bool:
		return strings.TrimSpace(cast.ToString(v))
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
