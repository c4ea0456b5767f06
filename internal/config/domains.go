package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Domain describes one category of verifiable data: its record table, the
// request parameter carrying the natural key, the freshness TTL, and whether
// live upstream providers exist for it. Domains without upstream support
// degrade to cache-only lookups through the same resolver contract.
type Domain struct {
	Name     string
	Table    string
	KeyParam string
	Aliases  []string
	TTL      time.Duration
	Upstream bool
}

// Defaults mirror the reference deployment: 24h for RC, 168h for driving
// licences, 12h for challans.
func defaultDomains() []Domain {
	return []Domain{
		{Name: "rc", Table: "rc_records", KeyParam: "reg_no", Aliases: []string{"regNo"}, TTL: 24 * time.Hour, Upstream: true},
		{Name: "licence", Table: "licence_records", KeyParam: "dl_no", Aliases: []string{"dlNo"}, TTL: 168 * time.Hour, Upstream: true},
		{Name: "challan", Table: "challan_records", KeyParam: "vehicle_no", Aliases: []string{"vehicleNo"}, TTL: 12 * time.Hour, Upstream: true},
		{Name: "rc_mobile", Table: "rc_mobile_records", KeyParam: "reg_no", Aliases: []string{"regNo"}, TTL: 24 * time.Hour},
		{Name: "dl_challan", Table: "dl_challan_records", KeyParam: "dl_no", Aliases: []string{"dlNo"}, TTL: 12 * time.Hour},
		{Name: "pan", Table: "pan_records", KeyParam: "pan_number", Aliases: []string{"panNumber"}, TTL: 720 * time.Hour},
		{Name: "gst", Table: "gst_records", KeyParam: "gstin", TTL: 720 * time.Hour},
		{Name: "msme", Table: "msme_records", KeyParam: "udyam_number", Aliases: []string{"udyamNumber"}, TTL: 720 * time.Hour},
		{Name: "udyam_phone", Table: "udyam_phone_records", KeyParam: "phone_number", Aliases: []string{"phoneNumber"}, TTL: 720 * time.Hour},
		{Name: "voter_id", Table: "voter_id_records", KeyParam: "epic_number", Aliases: []string{"epicNumber"}, TTL: 720 * time.Hour},
		{Name: "address", Table: "address_records", KeyParam: "aadhaar_no", Aliases: []string{"aadhaarNo"}, TTL: 720 * time.Hour},
		{Name: "fuel_city", Table: "fuel_city_records", KeyParam: "city", TTL: 24 * time.Hour},
		{Name: "fuel_state", Table: "fuel_state_records", KeyParam: "state", TTL: 24 * time.Hour},
	}
}

// Domains returns the domain roster, applying overrides from the optional
// YAML file referenced by cfg.DomainsFile. Only TTL hours and the upstream
// flag may be overridden; the roster itself is fixed at build time.
func Domains(cfg Config) ([]Domain, error) {
	domains := defaultDomains()
	file := strings.TrimSpace(cfg.DomainsFile)
	if file == "" {
		return domains, nil
	}

	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return domains, nil
		}
		return nil, fmt.Errorf("read domains file: %w", err)
	}

	for i := range domains {
		key := "domains." + domains[i].Name
		if v.IsSet(key + ".ttl_hours") {
			hours := v.GetInt(key + ".ttl_hours")
			if hours > 0 {
				domains[i].TTL = time.Duration(hours) * time.Hour
			}
		}
		if v.IsSet(key + ".upstream") {
			domains[i].Upstream = v.GetBool(key + ".upstream")
		}
	}
	return domains, nil
}

// DomainByName looks a domain up in a roster. Callers treat an empty name as
// programmer error; a missing domain is reported to let catalog typos surface
// early instead of at request time.
func DomainByName(domains []Domain, name string) (Domain, error) {
	for _, d := range domains {
		if d.Name == name {
			return d, nil
		}
	}
	return Domain{}, fmt.Errorf("unknown data domain %q", name)
}
