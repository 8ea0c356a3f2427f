package service

import (
	"encoding/json"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
)

// Canvas lists: Presentation 3 keeps canvases in items, Presentation 2 in the
// first sequence.
const (
	canvasListExpr      = "items || sequences[0].canvases"
	canvasBodyExpr      = "items[].items[].body.service"
	canvasImageExpr     = "images[].resource.service"
	documentIDExpr      = "id || \"@id\""
	documentServiceExpr = "service"
)

// Discovery is the set of auth services declared by one resource document.
type Discovery struct {
	Services   []domainauth.ServiceDescriptor
	APIVersion domainauth.APIVersion
}

// RequiresAuth reports whether any auth service was found.
func (d Discovery) RequiresAuth() bool { return len(d.Services) > 0 }

// ByRole returns every discovered service with the role, in discovery order.
func (d Discovery) ByRole(role domainauth.ServiceRole) []domainauth.ServiceDescriptor {
	var out []domainauth.ServiceDescriptor
	for _, s := range d.Services {
		if s.Profile.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// First returns the first discovered service with the role.
func (d Discovery) First(role domainauth.ServiceRole) (domainauth.ServiceDescriptor, bool) {
	for _, s := range d.Services {
		if s.Profile.Role == role {
			return s, true
		}
	}
	return domainauth.ServiceDescriptor{}, false
}

// LoginService returns the first service in declaration order that can start a
// flow: login, cookie, token or external.
func (d Discovery) LoginService() (domainauth.ServiceDescriptor, bool) {
	for _, s := range d.Services {
		if s.Profile.StartsFlow() {
			return s, true
		}
	}
	return domainauth.ServiceDescriptor{}, false
}

// ParseDocument decodes a resource body into a generic JSON object.
func ParseDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "resource is not a JSON object")
	}
	return doc, nil
}

// DocumentID returns the id (or @id) of a resource document, or "".
func DocumentID(doc map[string]any) string {
	v, err := jmespath.Search(documentIDExpr, doc)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// DiscoverAuthServices collects the auth services declared by a resource document.
//
// Top-level services come first, each followed by its accepted nested children
// (one level only). Services attached to canvas image bodies or legacy image
// resources follow. Unknown profiles and services without an id are dropped, and
// the first occurrence of an id wins.
func DiscoverAuthServices(doc map[string]any) (Discovery, error) {
	var candidates []domainauth.ServiceDescriptor

	top, err := servicesAt(documentServiceExpr, doc)
	if err != nil {
		return Discovery{}, err
	}
	for _, svc := range top {
		if !svc.Profile.Valid() {
			continue
		}
		candidates = append(candidates, svc)
		for _, nested := range svc.Services {
			if nested.Profile.Valid() {
				candidates = append(candidates, nested)
			}
		}
	}

	canvases, err := jmespath.Search(canvasListExpr, doc)
	if err != nil {
		return Discovery{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "evaluate canvas list")
	}
	if list, ok := canvases.([]any); ok {
		for _, canvas := range list {
			for _, expr := range []string{canvasBodyExpr, canvasImageExpr} {
				found, searchErr := servicesAt(expr, canvas)
				if searchErr != nil {
					return Discovery{}, searchErr
				}
				for _, svc := range found {
					if svc.Profile.Valid() {
						candidates = append(candidates, svc)
					}
				}
			}
		}
	}

	services := dedupeByID(candidates)
	return Discovery{Services: services, APIVersion: apiVersionOf(services)}, nil
}

// servicesAt evaluates expr against data and decodes every resulting service value.
// A projection yields a list whose entries may themselves be a single service or a
// list of services.
func servicesAt(expr string, data any) ([]domainauth.ServiceDescriptor, error) {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, fmt.Sprintf("evaluate %q", expr))
	}
	if v == nil {
		return nil, nil
	}

	values := []any{v}
	if expr != documentServiceExpr {
		list, ok := v.([]any)
		if !ok {
			return nil, nil
		}
		values = list
	}

	var out []domainauth.ServiceDescriptor
	for _, value := range values {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			return nil, apperrors.Wrap(marshalErr, apperrors.ErrCodeInternal, "encode service value")
		}
		decoded, decodeErr := domainauth.DecodeServiceList(raw)
		if decodeErr != nil {
			// Malformed entries are not auth services.
			continue
		}
		out = append(out, decoded...)
	}
	return out, nil
}

func dedupeByID(in []domainauth.ServiceDescriptor) []domainauth.ServiceDescriptor {
	seen := make(map[string]struct{}, len(in))
	out := make([]domainauth.ServiceDescriptor, 0, len(in))
	for _, svc := range in {
		if svc.ID == "" {
			continue
		}
		if _, dup := seen[svc.ID]; dup {
			continue
		}
		seen[svc.ID] = struct{}{}
		out = append(out, svc)
	}
	return out
}

func apiVersionOf(services []domainauth.ServiceDescriptor) domainauth.APIVersion {
	var v1, v2 bool
	for _, s := range services {
		switch s.Profile.Version {
		case domainauth.APIVersion1:
			v1 = true
		case domainauth.APIVersion2:
			v2 = true
		}
	}
	switch {
	case v1 && v2:
		return domainauth.APIVersionMixed
	case v2:
		return domainauth.APIVersion2
	case v1:
		return domainauth.APIVersion1
	default:
		return domainauth.APIVersionUnknown
	}
}
