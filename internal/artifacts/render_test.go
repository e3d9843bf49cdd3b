package artifacts

import (
	"strings"
	"testing"
)

func zoneConfigParams() ZoneConfigParams {
	return ZoneConfigParams{
		Name:      "demo-ab12cd34",
		PathRoot:  "/zones/",
		LowerLink: "net0",
		Comment:   "ephemeral test zone",
	}
}

func profileParams() ProfileParams {
	return ProfileParams{
		ZoneName:  "demo-ab12cd34",
		UserName:  "tester",
		PublicKey: "ssh-rsa AAAAB3Nza zonekit",
	}
}

func TestRenderZoneConfig(t *testing.T) {
	text, err := RenderZoneConfig(zoneConfigParams())
	if err != nil {
		t.Fatalf("RenderZoneConfig failed: %v", err)
	}

	// The zonepath is the path root with the zone identity appended
	for _, want := range []string{
		"set zonepath=/zones/demo-ab12cd34",
		"set lower-link=net0",
		`set value="ephemeral test zone"`,
		"set ip-type=exclusive",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Rendered zone config missing %q:\n%s", want, text)
		}
	}
}

func TestRenderProfile(t *testing.T) {
	text, err := RenderProfile(profileParams())
	if err != nil {
		t.Fatalf("RenderProfile failed: %v", err)
	}

	for _, want := range []string{
		`name="nodename" value="demo-ab12cd34"`,
		`name="login" value="tester"`,
		`name="ssh_public_key" value="ssh-rsa AAAAB3Nza zonekit"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Rendered profile missing %q:\n%s", want, text)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	first, err := RenderZoneConfig(zoneConfigParams())
	if err != nil {
		t.Fatalf("RenderZoneConfig failed: %v", err)
	}
	second, err := RenderZoneConfig(zoneConfigParams())
	if err != nil {
		t.Fatalf("RenderZoneConfig failed: %v", err)
	}
	if first != second {
		t.Error("Identical inputs rendered different zone configs")
	}

	firstProfile, err := RenderProfile(profileParams())
	if err != nil {
		t.Fatalf("RenderProfile failed: %v", err)
	}
	secondProfile, err := RenderProfile(profileParams())
	if err != nil {
		t.Fatalf("RenderProfile failed: %v", err)
	}
	if firstProfile != secondProfile {
		t.Error("Identical inputs rendered different profiles")
	}
}

func TestRenderZoneConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ZoneConfigParams)
	}{
		{"missing name", func(p *ZoneConfigParams) { p.Name = "" }},
		{"missing path root", func(p *ZoneConfigParams) { p.PathRoot = "" }},
		{"missing lower link", func(p *ZoneConfigParams) { p.LowerLink = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := zoneConfigParams()
			tt.mutate(&params)
			if _, err := RenderZoneConfig(params); err == nil {
				t.Error("Expected validation error, got none")
			}
		})
	}
}

func TestRenderProfileValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProfileParams)
	}{
		{"missing zone name", func(p *ProfileParams) { p.ZoneName = "" }},
		{"missing user name", func(p *ProfileParams) { p.UserName = "" }},
		{"missing public key", func(p *ProfileParams) { p.PublicKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := profileParams()
			tt.mutate(&params)
			if _, err := RenderProfile(params); err == nil {
				t.Error("Expected validation error, got none")
			}
		})
	}
}
