package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	"github.com/code4history/IIIF-MCP/internal/service"
)

// serviceGroups lists the sections of the info summary in output order.
var serviceGroups = []struct {
	title string
	roles []domainauth.ServiceRole
}{
	{title: "Login Services", roles: []domainauth.ServiceRole{domainauth.RoleLogin, domainauth.RoleCookie, domainauth.RoleExternal}},
	{title: "Token Services", roles: []domainauth.ServiceRole{domainauth.RoleToken}},
	{title: "Logout Services", roles: []domainauth.ServiceRole{domainauth.RoleLogout}},
	{title: "Probe Services", roles: []domainauth.ServiceRole{domainauth.RoleProbe}},
}

func serviceTypeName(role domainauth.ServiceRole) string {
	switch role {
	case domainauth.RoleLogin:
		return "Login Service"
	case domainauth.RoleCookie:
		return "Cookie Service"
	case domainauth.RoleExternal:
		return "External Service"
	case domainauth.RoleLogout:
		return "Logout Service"
	case domainauth.RoleToken:
		return "Token Service"
	case domainauth.RoleProbe:
		return "Probe Service"
	default:
		return "Unknown Service"
	}
}

func marshalIndent(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func renderAuthInfo(doc map[string]any, structured bool) (string, error) {
	disc, err := service.DiscoverAuthServices(doc)
	if err != nil {
		return "", err
	}
	if structured {
		return marshalIndent(structuredAuthInfo(service.DocumentID(doc), disc))
	}
	return formatAuthInfo(service.DocumentID(doc), disc), nil
}

func formatAuthInfo(resourceID string, disc service.Discovery) string {
	if resourceID == "" {
		resourceID = "Unknown"
	}

	var b strings.Builder
	b.WriteString("## Authentication Information\n\n")
	fmt.Fprintf(&b, "**Resource**: %s\n", resourceID)

	if !disc.RequiresAuth() {
		b.WriteString("\n*No authentication required for this resource.*\n")
		return b.String()
	}

	b.WriteString("**Authentication Required**: Yes\n")
	fmt.Fprintf(&b, "**Total Auth Services**: %d\n\n", len(disc.Services))

	for _, group := range serviceGroups {
		var members []domainauth.ServiceDescriptor
		for _, role := range group.roles {
			members = append(members, disc.ByRole(role)...)
		}
		if len(members) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### %s (%d):\n\n", group.title, len(members))
		for i, svc := range members {
			writeService(&b, svc, i+1)
		}
	}

	b.WriteString("\n### Authentication Flow:\n")
	b.WriteString("1. **Login**: Direct user to login service URL\n")
	b.WriteString("2. **Token**: Exchange auth code for access token\n")
	b.WriteString("3. **Access**: Include token in requests to protected resources\n")
	b.WriteString("4. **Probe**: (Optional) Check access before full resource request\n")
	b.WriteString("5. **Logout**: (Optional) Invalidate session\n")
	return b.String()
}

func writeService(b *strings.Builder, svc domainauth.ServiceDescriptor, index int) {
	fmt.Fprintf(b, "**[%d] %s**\n", index, serviceTypeName(svc.Profile.Role))
	fmt.Fprintf(b, "- URL: %s\n", svc.ID)
	fmt.Fprintf(b, "- Profile: %s\n", svc.Profile.URI)
	fmt.Fprintf(b, "- API Version: %s\n", svc.Profile.Version)

	for _, field := range []struct {
		name  string
		value domainauth.LanguageValue
	}{
		{"Label", svc.Label},
		{"Header", svc.Header},
		{"Description", svc.Description},
		{"Confirm Label", svc.ConfirmLabel},
		{"Failure Header", svc.FailureHeader},
		{"Failure Description", svc.FailureDescription},
	} {
		if !field.value.IsZero() {
			fmt.Fprintf(b, "- %s: %s\n", field.name, field.value.First())
		}
	}
	b.WriteString("\n")
}

// AuthInfo is the structured form of the info action.
type AuthInfo struct {
	ResourceURL    string            `json:"resource_url"`
	RequiresAuth   bool              `json:"requires_auth"`
	AuthAPIVersion string            `json:"auth_api_version,omitempty"`
	AuthServices   []AuthServiceInfo `json:"auth_services"`
	LoginServices  []ServiceSummary  `json:"login_services"`
	TokenServices  []ServiceSummary  `json:"token_services"`
	LogoutServices []ServiceSummary  `json:"logout_services"`
	ProbeServices  []ServiceSummary  `json:"probe_services"`
}

// AuthServiceInfo describes one discovered service.
type AuthServiceInfo struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Profile            string `json:"profile"`
	Label              string `json:"label,omitempty"`
	Header             string `json:"header,omitempty"`
	Description        string `json:"description,omitempty"`
	ConfirmLabel       string `json:"confirm_label,omitempty"`
	FailureHeader      string `json:"failure_header,omitempty"`
	FailureDescription string `json:"failure_description,omitempty"`
}

// ServiceSummary is the per-role listing entry.
type ServiceSummary struct {
	ID             string `json:"id"`
	Label          string `json:"label,omitempty"`
	AuthAPIVersion string `json:"auth_api_version"`
}

func structuredAuthInfo(resourceID string, disc service.Discovery) AuthInfo {
	info := AuthInfo{
		ResourceURL:    resourceID,
		RequiresAuth:   disc.RequiresAuth(),
		AuthAPIVersion: string(disc.APIVersion),
		AuthServices:   []AuthServiceInfo{},
		LoginServices:  []ServiceSummary{},
		TokenServices:  []ServiceSummary{},
		LogoutServices: []ServiceSummary{},
		ProbeServices:  []ServiceSummary{},
	}

	for _, svc := range disc.Services {
		info.AuthServices = append(info.AuthServices, AuthServiceInfo{
			ID:                 svc.ID,
			Type:               serviceTypeName(svc.Profile.Role),
			Profile:            svc.Profile.URI,
			Label:              svc.Label.First(),
			Header:             svc.Header.First(),
			Description:        svc.Description.First(),
			ConfirmLabel:       svc.ConfirmLabel.First(),
			FailureHeader:      svc.FailureHeader.First(),
			FailureDescription: svc.FailureDescription.First(),
		})

		summary := ServiceSummary{ID: svc.ID, AuthAPIVersion: string(svc.Profile.Version)}
		switch svc.Profile.Role {
		case domainauth.RoleLogin, domainauth.RoleCookie, domainauth.RoleExternal:
			summary.Label = svc.Label.First()
			info.LoginServices = append(info.LoginServices, summary)
		case domainauth.RoleToken:
			info.TokenServices = append(info.TokenServices, summary)
		case domainauth.RoleLogout:
			summary.Label = svc.Label.First()
			info.LogoutServices = append(info.LogoutServices, summary)
		case domainauth.RoleProbe:
			info.ProbeServices = append(info.ProbeServices, summary)
		}
	}
	return info
}

// SessionSummary describes a session without its secrets.
type SessionSummary struct {
	ResourceURL string     `json:"resourceUrl"`
	AuthType    string     `json:"authType"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	HasToken    bool       `json:"hasToken"`
	HasCookie   bool       `json:"hasCookie"`
}

func renderSession(sess domainauth.Session, structured bool) (string, error) {
	if structured {
		return marshalIndent(struct {
			Success bool           `json:"success"`
			Session SessionSummary `json:"session"`
		}{
			Success: true,
			Session: SessionSummary{
				ResourceURL: sess.ResourceURL,
				AuthType:    string(sess.AuthType),
				ExpiresAt:   sess.ExpiresAt,
				HasToken:    sess.HasToken(),
				HasCookie:   sess.HasCookie(),
			},
		})
	}

	expires := "No expiry"
	if sess.ExpiresAt != nil {
		expires = sess.ExpiresAt.UTC().Format(time.RFC3339)
	}
	obtained := "Session established"
	switch {
	case sess.HasToken():
		obtained = "Token obtained"
	case sess.HasCookie():
		obtained = "Cookie obtained"
	}

	var b strings.Builder
	b.WriteString("## Authentication Successful\n\n")
	fmt.Fprintf(&b, "**Resource**: %s\n", sess.ResourceURL)
	fmt.Fprintf(&b, "**Auth Type**: %s\n", sess.AuthType)
	fmt.Fprintf(&b, "**Expires**: %s\n", expires)
	fmt.Fprintf(&b, "**Session**: %s\n", obtained)
	return b.String(), nil
}

func renderProbe(resourceURL string, granted, structured bool) (string, error) {
	if structured {
		return marshalIndent(struct {
			ResourceURL string `json:"resourceUrl"`
			HasAccess   bool   `json:"hasAccess"`
		}{resourceURL, granted})
	}
	verdict := "❌ Denied"
	if granted {
		verdict = "✅ Granted"
	}
	return fmt.Sprintf("Access to %s: %s", resourceURL, verdict), nil
}

func renderLogout(resourceURL string, structured bool) (string, error) {
	if structured {
		return marshalIndent(struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}{true, "Logged out successfully"})
	}
	return "Successfully logged out from " + resourceURL, nil
}

func renderProtected(resourceURL string, doc map[string]any, structured bool) (string, error) {
	raw, err := marshalIndent(doc)
	if err != nil {
		return "", err
	}
	if structured {
		return raw, nil
	}

	var b strings.Builder
	b.WriteString("## Protected Resource\n\n")
	fmt.Fprintf(&b, "**URL**: %s\n\n", resourceURL)
	if label := documentLabel(doc); label != "" {
		fmt.Fprintf(&b, "**Label**: %s\n", label)
	}
	if typ := documentType(doc); typ != "" {
		fmt.Fprintf(&b, "**Type**: %s\n", typ)
	}
	b.WriteString("\n### Raw Data:\n```json\n")
	b.WriteString(raw)
	b.WriteString("\n```")
	return b.String(), nil
}

func documentLabel(doc map[string]any) string {
	v, ok := doc["label"]
	if !ok {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var label domainauth.LanguageValue
	if err := json.Unmarshal(data, &label); err != nil {
		return ""
	}
	return label.First()
}

func documentType(doc map[string]any) string {
	for _, key := range []string{"type", "@type"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
