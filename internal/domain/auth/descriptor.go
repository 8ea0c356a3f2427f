package auth

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"strings"
)

// ServiceDescriptor is an IIIF auth service as advertised by a resource.
// Version specific spellings (@id/id, @type/type) are reconciled while decoding,
// and the profile URI is parsed once into a version and role.
type ServiceDescriptor struct {
	ID                 string
	Type               string
	Profile            Profile
	Label              LanguageValue
	Header             LanguageValue
	Description        LanguageValue
	ConfirmLabel       LanguageValue
	FailureHeader      LanguageValue
	FailureDescription LanguageValue
	Services           []ServiceDescriptor
}

type rawDescriptor struct {
	LDID               string          `json:"@id"`
	ID                 string          `json:"id"`
	LDType             json.RawMessage `json:"@type"`
	Type               json.RawMessage `json:"type"`
	Profile            json.RawMessage `json:"profile"`
	Label              LanguageValue   `json:"label"`
	Header             LanguageValue   `json:"header"`
	Description        LanguageValue   `json:"description"`
	ConfirmLabel       LanguageValue   `json:"confirmLabel"`
	FailureHeader      LanguageValue   `json:"failureHeader"`
	FailureDescription LanguageValue   `json:"failureDescription"`
	Service            json.RawMessage `json:"service"`
}

// UnmarshalJSON decodes either a v1 or v2 service object.
func (d *ServiceDescriptor) UnmarshalJSON(data []byte) error {
	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := ServiceDescriptor{
		ID:                 firstNonEmpty(raw.ID, raw.LDID),
		Type:               firstNonEmpty(typeName(raw.Type), typeName(raw.LDType)),
		Label:              raw.Label,
		Header:             raw.Header,
		Description:        raw.Description,
		ConfirmLabel:       raw.ConfirmLabel,
		FailureHeader:      raw.FailureHeader,
		FailureDescription: raw.FailureDescription,
	}
	out.Profile = parseProfileField(raw.Profile)

	nested, err := DecodeServiceList(raw.Service)
	if err != nil {
		return err
	}
	out.Services = nested

	*d = out
	return nil
}

// MarshalJSON emits the descriptor using v2 style keys.
func (d ServiceDescriptor) MarshalJSON() ([]byte, error) {
	out := map[string]any{"id": d.ID}
	if d.Type != "" {
		out["type"] = d.Type
	}
	if d.Profile.URI != "" {
		out["profile"] = d.Profile.URI
	}
	for key, v := range map[string]LanguageValue{
		"label":              d.Label,
		"header":             d.Header,
		"description":        d.Description,
		"confirmLabel":       d.ConfirmLabel,
		"failureHeader":      d.FailureHeader,
		"failureDescription": d.FailureDescription,
	} {
		if s := v.First(); s != "" {
			out[key] = s
		}
	}
	if len(d.Services) > 0 {
		out["service"] = d.Services
	}
	return json.Marshal(out)
}

// AuthType maps the descriptor to the flow that handles it. External wins over
// token, token over cookie, and a bare login profile runs the cookie flow.
func (d ServiceDescriptor) AuthType() AuthType {
	switch d.Profile.Role {
	case RoleExternal:
		return AuthTypeExternal
	case RoleToken:
		return AuthTypeToken
	case RoleCookie, RoleLogin:
		return AuthTypeCookie
	default:
		return AuthTypeUnknown
	}
}

// NestedService returns the first nested service with the given role.
func (d ServiceDescriptor) NestedService(role ServiceRole) (ServiceDescriptor, bool) {
	i := slices.IndexFunc(d.Services, func(s ServiceDescriptor) bool {
		return s.Profile.Role == role && s.ID != ""
	})
	if i < 0 {
		return ServiceDescriptor{}, false
	}
	return d.Services[i], true
}

// DecodeServiceList decodes a "service" value, which may be a single object or
// an array. Array entries that are not objects or fail to decode are skipped.
func DecodeServiceList(data json.RawMessage) ([]ServiceDescriptor, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '{':
		var d ServiceDescriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return []ServiceDescriptor{d}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		out := make([]ServiceDescriptor, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				continue
			}
			var d ServiceDescriptor
			if err := json.Unmarshal(item, &d); err != nil {
				// A malformed sibling does not hide the others.
				continue
			}
			out = append(out, d)
		}
		return out, nil
	default:
		return nil, nil
	}
}

func parseProfileField(data json.RawMessage) Profile {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Profile{}
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if p, ok := ParseProfile(single); ok {
			return p
		}
		return Profile{URI: single}
	}

	// Some v1 documents list several profile URIs; the first known one wins.
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		for _, uri := range many {
			if p, ok := ParseProfile(uri); ok {
				return p
			}
		}
		if len(many) > 0 {
			return Profile{URI: many[0]}
		}
	}
	return Profile{}
}

// typeName reads a type value that JSON-LD may spell as a string or an array of
// strings. The first string wins.
func typeName(data json.RawMessage) string {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LanguageValue holds a plain string or an IIIF language map
// ({"en": ["Login"]}), or the v2 form [{"@value": "Login", "@language": "en"}].
type LanguageValue struct {
	Plain string
	ByLang map[string][]string
}

// UnmarshalJSON accepts every form listed on LanguageValue.
func (v *LanguageValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = LanguageValue{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &v.Plain)
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		v.ByLang = make(map[string][]string, len(m))
		for lang, raw := range m {
			var list []string
			if err := json.Unmarshal(raw, &list); err == nil {
				v.ByLang[lang] = list
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				v.ByLang[lang] = []string{s}
			}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil
		}
		v.ByLang = map[string][]string{}
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				v.ByLang["none"] = append(v.ByLang["none"], s)
				continue
			}
			var tagged struct {
				Value    string `json:"@value"`
				Language string `json:"@language"`
			}
			if err := json.Unmarshal(item, &tagged); err == nil && tagged.Value != "" {
				lang := tagged.Language
				if lang == "" {
					lang = "none"
				}
				v.ByLang[lang] = append(v.ByLang[lang], tagged.Value)
			}
		}
	}
	return nil
}

// First returns the plain string, or the first value of the preferred language.
// English is preferred, then "none", then the lexically first language tag.
func (v LanguageValue) First() string {
	if v.Plain != "" {
		return v.Plain
	}
	for _, lang := range []string{"en", "none"} {
		if vals := v.ByLang[lang]; len(vals) > 0 {
			return vals[0]
		}
	}
	langs := make([]string, 0, len(v.ByLang))
	for lang := range v.ByLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if vals := v.ByLang[lang]; len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// IsZero reports whether the value carries no text.
func (v LanguageValue) IsZero() bool { return strings.TrimSpace(v.First()) == "" }
