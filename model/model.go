// Package model holds the navigation model the server embeds in every page
// and fragment.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrNoPage is returned by Parse when the payload has no page section.
var ErrNoPage = errors.New("navigation model has no page")

// OpenGraph fields rendered as og:* meta tags.
type OpenGraph struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title,omitempty"`
	Image       string `json:"image,omitempty"`
	URL         string `json:"url,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Description string `json:"description,omitempty"`
}

// PageInfo is the page section of the model. Type selects the page
// behaviour; everything else is kept raw for the behaviour to decode.
type PageInfo struct {
	Type string
	Raw  json.RawMessage
}

// UnmarshalJSON keeps the raw object and extracts the type.
func (p *PageInfo) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p.Type = head.Type
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the raw object back, or just the type.
func (p PageInfo) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		Type string `json:"type,omitempty"`
	}{p.Type})
}

// Decode unmarshals the page section into v.
func (p PageInfo) Decode(v any) error {
	if len(p.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(p.Raw, v)
}

// Navigation is the server-declared description of the current page.
type Navigation struct {
	URL             string              `json:"url,omitempty"`
	Path            string              `json:"path,omitempty"`
	Query           map[string][]string `json:"query,omitempty"`
	Page            *PageInfo           `json:"page"`
	Title           string              `json:"title,omitempty"`
	Description     string              `json:"description,omitempty"`
	Keywords        string              `json:"keywords,omitempty"`
	CanonicalLink   string              `json:"canonicalLink,omitempty"`
	OpenGraph       *OpenGraph          `json:"openGraph,omitempty"`
	BodyClass       string              `json:"bodyClass,omitempty"`
	ValidationToken string              `json:"validationToken,omitempty"`
	State           string              `json:"state,omitempty"`
	IsAuthenticated bool                `json:"isAuthenticated"`
}

// Parse decodes a navigation payload.
func Parse(data []byte) (*Navigation, error) {
	var nav Navigation
	if err := json.Unmarshal(data, &nav); err != nil {
		return nil, fmt.Errorf("decoding navigation model: %w", err)
	}
	if nav.Page == nil {
		return nil, ErrNoPage
	}
	return &nav, nil
}

// PageType returns page.type, or "" when absent.
func (n *Navigation) PageType() string {
	if n == nil || n.Page == nil {
		return ""
	}
	return n.Page.Type
}

// QueryValues returns a copy of the model's query parameters.
func (n *Navigation) QueryValues() url.Values {
	v := url.Values{}
	if n == nil {
		return v
	}
	for k, vs := range n.Query {
		v[k] = append([]string(nil), vs...)
	}
	return v
}
