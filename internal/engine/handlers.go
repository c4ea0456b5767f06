package engine

import (
	"fmt"
	"strings"

	"github.com/veriplex/veriplex/internal/config"
	"gorm.io/datatypes"
)

// ShapeFunc optionally projects a resolved payload before it is returned.
// Nil means the payload passes through untouched.
type ShapeFunc func(datatypes.JSONMap) datatypes.JSONMap

// Handler binds a marketplace slug to its data domain. Several slugs can
// share a domain; they differ only in shaping.
type Handler struct {
	Slug   string
	Domain config.Domain
	Shape  ShapeFunc
}

// Key extracts the record key from request params, accepting the domain's
// canonical parameter name or any of its aliases.
func (h Handler) Key(params map[string]string) (string, error) {
	names := append([]string{h.Domain.KeyParam}, h.Domain.Aliases...)
	for _, name := range names {
		if v := strings.TrimSpace(params[name]); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingParameter, h.Domain.KeyParam)
}

// Apply runs the shape projection, if any.
func (h Handler) Apply(payload datatypes.JSONMap) datatypes.JSONMap {
	if h.Shape == nil {
		return payload
	}
	return h.Shape(payload)
}

// handlerSpec is one row of the static slug table.
type handlerSpec struct {
	slug   string
	domain string
	shape  ShapeFunc
}

// handlerSpecs is the full slug roster. Adding a service is one line here
// plus a catalog row; there is deliberately no per-slug branching anywhere
// else.
func handlerSpecs() []handlerSpec {
	return []handlerSpec{
		{slug: "vehicle-rc-verification", domain: "rc"},
		{slug: "rc-to-engine-chassis", domain: "rc"},
		{slug: "basic-vehicle-info", domain: "rc", shape: shapeBasicVehicleInfo},
		{slug: "rc-to-mobile", domain: "rc_mobile"},
		{slug: "driving-licence", domain: "licence"},
		{slug: "dl-to-challan", domain: "dl_challan"},
		{slug: "challan-detail", domain: "challan"},
		{slug: "fuel-price-city", domain: "fuel_city"},
		{slug: "fuel-price-state", domain: "fuel_state"},
		{slug: "pan-verification", domain: "pan"},
		{slug: "pan-to-aadhaar", domain: "pan"},
		{slug: "gst-verification", domain: "gst"},
		{slug: "gst-basic-details", domain: "gst"},
		{slug: "gst-address", domain: "gst"},
		{slug: "gst-aadhaar-status", domain: "gst"},
		{slug: "msme-verification", domain: "msme"},
		{slug: "phone-to-udyam", domain: "udyam_phone"},
		{slug: "voter-id-verification", domain: "voter_id"},
		{slug: "address-verification", domain: "address"},
	}
}

// basicVehicleFields is the subset of an RC payload exposed by the
// basic-vehicle-info service.
var basicVehicleFields = []string{
	"regNo", "state", "rto", "regDate", "status",
	"ownerName", "fatherName", "permanentAddress", "presentAddress",
	"mobileNo", "ownerSrNo", "vehicleClass", "maker", "makerModal", "fuelType",
}

func shapeBasicVehicleInfo(payload datatypes.JSONMap) datatypes.JSONMap {
	shaped := make(datatypes.JSONMap, len(basicVehicleFields))
	for _, field := range basicVehicleFields {
		if v, ok := payload[field]; ok {
			shaped[field] = v
		}
	}
	return shaped
}

// Registry is the immutable slug lookup table built at startup.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry resolves every slug spec against the domain roster. A spec
// naming a domain that is not in the roster fails startup rather than the
// first request.
func NewRegistry(domains []config.Domain) (*Registry, error) {
	handlers := make(map[string]Handler)
	for _, spec := range handlerSpecs() {
		dom, err := config.DomainByName(domains, spec.domain)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", spec.slug, err)
		}
		handlers[spec.slug] = Handler{Slug: spec.slug, Domain: dom, Shape: spec.shape}
	}
	return &Registry{handlers: handlers}, nil
}

// Lookup returns the handler for a slug.
func (r *Registry) Lookup(slug string) (Handler, bool) {
	h, ok := r.handlers[slug]
	return h, ok
}
