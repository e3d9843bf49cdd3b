// Package artifacts renders the two configuration documents the zone
// toolchain consumes: the zonecfg command script that defines the zone, and
// the system-configuration (SC) profile applied when cloning it.
package artifacts

import (
	"bytes"
	"fmt"
	"text/template"
)

const zoneConfigTemplate = `create -b
set zonepath={{.PathRoot}}{{.Name}}
set brand=solaris
set autoboot=false
set ip-type=exclusive
add attr
set name=comment
set type=string
set value="{{.Comment}}"
end
add anet
set linkname=net0
set lower-link={{.LowerLink}}
end
`

const profileTemplate = `<!DOCTYPE service_bundle SYSTEM "/usr/share/lib/xml/dtd/service_bundle.dtd.1">
<service_bundle type="profile" name="sysconfig">
  <service version="1" type="service" name="system/identity">
    <instance enabled="true" name="node">
      <property_group type="application" name="config">
        <propval type="astring" name="nodename" value="{{.ZoneName}}"/>
      </property_group>
    </instance>
  </service>
  <service version="1" type="service" name="system/config-user">
    <instance enabled="true" name="default">
      <property_group type="application" name="user_account">
        <propval type="astring" name="login" value="{{.UserName}}"/>
        <propval type="astring" name="shell" value="/usr/bin/bash"/>
        <propval type="astring" name="type" value="normal"/>
        <propval type="astring" name="sudoers" value="ALL=(ALL) NOPASSWD: ALL"/>
        <propval type="astring" name="ssh_public_key" value="{{.PublicKey}}"/>
      </property_group>
      <property_group type="application" name="root_account">
        <propval type="astring" name="type" value="role"/>
      </property_group>
    </instance>
  </service>
</service_bundle>
`

// ZoneConfigParams is the data for the zonecfg script template
type ZoneConfigParams struct {
	Name      string // zone identity
	PathRoot  string // directory prefix the zonepath is built from
	LowerLink string // datalink backing the zone's anet
	Comment   string // free-text comment stored as a zone attr
}

// ProfileParams is the data for the SC profile template
type ProfileParams struct {
	ZoneName  string
	UserName  string // account created inside the zone
	PublicKey string // authorized_keys line installed for UserName
}

// RenderZoneConfig renders the zonecfg command script. Deterministic and
// side-effect free; identical params always yield identical bytes.
func RenderZoneConfig(params ZoneConfigParams) (string, error) {
	if params.Name == "" {
		return "", fmt.Errorf("zone name is required")
	}
	if params.PathRoot == "" {
		return "", fmt.Errorf("zone path root is required")
	}
	if params.LowerLink == "" {
		return "", fmt.Errorf("lower link is required")
	}
	return render("zone-config", zoneConfigTemplate, params)
}

// RenderProfile renders the SC profile XML. Deterministic and side-effect
// free; identical params always yield identical bytes.
func RenderProfile(params ProfileParams) (string, error) {
	if params.ZoneName == "" {
		return "", fmt.Errorf("zone name is required")
	}
	if params.UserName == "" {
		return "", fmt.Errorf("user name is required")
	}
	if params.PublicKey == "" {
		return "", fmt.Errorf("public key is required")
	}
	return render("profile", profileTemplate, params)
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
