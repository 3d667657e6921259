package match

import (
	"testing"

	"github.com/meshwarden/warden/internal/model"
)

func rule(t model.RuleType, value string) *model.AccessRule {
	return &model.AccessRule{Type: t, Value: value, IsActive: true}
}

func TestMatchIP(t *testing.T) {
	r := rule(model.RuleTypeIP, "192.168.1.100")

	if !Match(r, model.Target{Host: "192.168.1.100"}) {
		t.Error("exact address should match")
	}
	if Match(r, model.Target{Host: "192.168.1.101"}) {
		t.Error("different address should not match")
	}
	if Match(r, model.Target{Host: "some-host"}) {
		t.Error("hostname target should not match an ip rule")
	}
}

func TestMatchCIDR(t *testing.T) {
	r := rule(model.RuleTypeCIDR, "10.0.0.0/24")

	tests := []struct {
		host string
		want bool
	}{
		{"10.0.0.5", true},
		{"10.0.0.255", true},
		{"10.0.1.5", false},
		{"11.0.0.5", false},
		{"::1", false}, // other address family
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := Match(r, model.Target{Host: tt.host}); got != tt.want {
			t.Errorf("Match(10.0.0.0/24, %s) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestMatchHostname(t *testing.T) {
	r := rule(model.RuleTypeHostname, "db.internal.example.com")

	if !Match(r, model.Target{Host: "DB.Internal.Example.COM"}) {
		t.Error("hostname match should be case-insensitive")
	}
	if Match(r, model.Target{Host: "db2.internal.example.com"}) {
		t.Error("different hostname should not match")
	}
	if Match(r, model.Target{Host: "internal.example.com"}) {
		t.Error("parent domain should not match")
	}
}

func TestMatchHostnameWildcard(t *testing.T) {
	r := rule(model.RuleTypeHostnameWildcard, "*.example.com")

	tests := []struct {
		host string
		want bool
	}{
		{"api.example.com", true},
		{"a.b.example.com", true},
		{"API.EXAMPLE.COM", true},
		{"example.com", false},     // bare domain is not a subdomain
		{"evilexample.com", false}, // label boundary
		{"example.com.evil.io", false},
	}
	for _, tt := range tests {
		if got := Match(r, model.Target{Host: tt.host}); got != tt.want {
			t.Errorf("Match(*.example.com, %s) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestMatchPortAndProtocol(t *testing.T) {
	r := rule(model.RuleTypeCIDR, "10.0.0.0/24")
	r.PortRange = "8000-8080"
	r.Protocol = "tcp"

	if !Match(r, model.Target{Host: "10.0.0.5", Port: 8080, Protocol: "TCP"}) {
		t.Error("port in range with matching protocol should match")
	}
	if Match(r, model.Target{Host: "10.0.0.5", Port: 8081, Protocol: "tcp"}) {
		t.Error("port above range should not match")
	}
	if Match(r, model.Target{Host: "10.0.0.5", Port: 8080, Protocol: "udp"}) {
		t.Error("protocol mismatch should not match")
	}

	// Single-port range.
	r.PortRange = "443"
	r.Protocol = ""
	if !Match(r, model.Target{Host: "10.0.0.5", Port: 443}) {
		t.Error("single port should match")
	}
	if Match(r, model.Target{Host: "10.0.0.5", Port: 444}) {
		t.Error("other port should not match single-port rule")
	}
}

func TestMatchOmittedFiltersMeanAny(t *testing.T) {
	r := rule(model.RuleTypeIP, "10.0.0.1")

	if !Match(r, model.Target{Host: "10.0.0.1", Port: 9999, Protocol: "udp"}) {
		t.Error("rule without port/protocol filters should match any port and protocol")
	}
}

func TestMatchMalformedStoredValue(t *testing.T) {
	// Post-validation this cannot happen; a corrupted row must be
	// non-matching rather than a panic or an error.
	r := rule(model.RuleTypeCIDR, "not-a-cidr")
	if Match(r, model.Target{Host: "10.0.0.5"}) {
		t.Error("malformed stored value must not match")
	}

	r = rule(model.RuleTypeIP, "10.0.0.1")
	r.PortRange = "bogus"
	if Match(r, model.Target{Host: "10.0.0.1", Port: 80}) {
		t.Error("malformed stored port range must not match")
	}
}

func TestParseValueErrors(t *testing.T) {
	tests := []struct {
		ruleType model.RuleType
		value    string
		wantErr  bool
	}{
		{model.RuleTypeIP, "192.168.1.1", false},
		{model.RuleTypeIP, "192.168.1.0/24", true},
		{model.RuleTypeCIDR, "10.0.0.0/24", false},
		{model.RuleTypeCIDR, "10.0.0.1", true},
		{model.RuleTypeHostname, "db.example.com", false},
		{model.RuleTypeHostname, "db..example.com", true},
		{model.RuleTypeHostname, "", true},
		{model.RuleTypeHostnameWildcard, "*.example.com", false},
		{model.RuleTypeHostnameWildcard, "example.com", true},
		{model.RuleTypeHostnameWildcard, "*.", true},
		{model.RuleType("bogus"), "anything", true},
	}
	for _, tt := range tests {
		_, err := ParseValue(tt.ruleType, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseValue(%s, %q) error = %v, wantErr %v", tt.ruleType, tt.value, err, tt.wantErr)
		}
	}
}

func TestParsePortRange(t *testing.T) {
	tests := []struct {
		in      string
		lo, hi  int
		wantErr bool
	}{
		{"443", 443, 443, false},
		{"8000-8080", 8000, 8080, false},
		{"1-65535", 1, 65535, false},
		{"0", 0, 0, true},
		{"70000", 0, 0, true},
		{"8080-8000", 0, 0, true},
		{"abc", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		lo, hi, err := ParsePortRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePortRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && (lo != tt.lo || hi != tt.hi) {
			t.Errorf("ParsePortRange(%q) = (%d, %d), want (%d, %d)", tt.in, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestValidateRule(t *testing.T) {
	good := &model.AccessRule{
		Type: model.RuleTypeCIDR, Value: "10.0.0.0/16",
		PortRange: "443", NetworkScope: "10.0.0.0/8",
	}
	if err := ValidateRule(good); err != nil {
		t.Fatalf("ValidateRule: %v", err)
	}

	bad := &model.AccessRule{Type: model.RuleTypeCIDR, Value: "10.0.0.0/16", NetworkScope: "nope"}
	if err := ValidateRule(bad); err == nil {
		t.Error("expected error for invalid network scope")
	}
}
