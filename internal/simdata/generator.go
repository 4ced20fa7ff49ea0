package simdata

import (
	"fmt"
	"math/rand"
	"time"

	"idsoc/pkg/models"
)

// Config controls scenario generation.
type Config struct {
	Seed         int64
	PerScenario  int
	BenignEvents int
	Now          time.Time
}

// Generator produces simulated identity telemetry: the four attack
// narratives plus benign background traffic. Output is deterministic for a
// fixed seed and reference time.
type Generator struct {
	rnd *rand.Rand
	now time.Time
	seq int
}

var users = []string{
	"alice.chen@contoso.com",
	"bob.martinez@contoso.com",
	"carol.nguyen@contoso.com",
	"david.okafor@contoso.com",
	"emma.larsson@contoso.com",
	"frank.ito@contoso.com",
}

type location struct {
	country string
	city    string
	ip      string
}

var locations = []location{
	{"United States", "New York", "203.0.113.42"},
	{"United States", "San Francisco", "198.51.100.15"},
	{"United Kingdom", "London", "203.0.113.89"},
	{"Germany", "Berlin", "198.51.100.203"},
	{"Japan", "Tokyo", "203.0.113.100"},
	{"Australia", "Sydney", "198.51.100.250"},
}

var devices = []string{"DESKTOP-4X2K", "LAPTOP-9QJ3", "MACBOOK-77A1", "SURFACE-0Bd8"}
var apps = []string{"Outlook", "Teams", "SharePoint", "Salesforce"}
var privilegedRoles = []string{"Global Administrator", "Security Administrator", "Exchange Administrator"}
var oauthApps = []string{"MailSync Pro", "CloudBackup Plus", "PDF Converter Online"}

// New creates a generator.
func New(cfg Config) *Generator {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	return &Generator{rnd: rand.New(rand.NewSource(cfg.Seed)), now: cfg.Now.UTC()}
}

// Generate produces cfg.PerScenario instances of each attack narrative and
// cfg.BenignEvents of background traffic.
func (g *Generator) Generate(cfg Config) []*models.RawEvent {
	per := cfg.PerScenario
	if per <= 0 {
		per = 1
	}
	benign := cfg.BenignEvents
	if benign < 0 {
		benign = 0
	}

	var out []*models.RawEvent
	for i := 0; i < per; i++ {
		out = append(out, g.MFAFatigue()...)
		out = append(out, g.ImpossibleTravel()...)
		out = append(out, g.OAuthAbuse()...)
		out = append(out, g.PrivilegeEscalation()...)
	}
	out = append(out, g.Benign(benign)...)
	return out
}

// MFAFatigue emits a burst of failed or timed-out MFA prompts that ends in
// a pass, followed by the attacker's sign-in.
func (g *Generator) MFAFatigue() []*models.RawEvent {
	user := g.pickUser()
	loc := g.pickLocation()
	device := g.pick(devices)
	base := g.now.Add(-time.Duration(2+g.rnd.Intn(20)) * time.Hour)

	var out []*models.RawEvent
	prompts := 5 + g.rnd.Intn(6)
	for i := 0; i < prompts; i++ {
		result := models.MFATimeout
		if g.rnd.Intn(3) == 0 {
			result = models.MFAFail
		}
		out = append(out, g.event(models.RawEvent{
			Timestamp:    base.Add(time.Duration(i) * 90 * time.Second),
			User:         user,
			EventType:    models.EventMFA,
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			Device:       device,
			MFAResult:    result,
			RiskLevel:    models.RiskMedium,
			ScenarioType: "mfa_fatigue",
		}))
	}
	passAt := base.Add(time.Duration(prompts) * 90 * time.Second)
	out = append(out, g.event(models.RawEvent{
		Timestamp:    passAt,
		User:         user,
		EventType:    models.EventMFA,
		IPAddress:    loc.ip,
		GeoCity:      loc.city,
		GeoCountry:   loc.country,
		Device:       device,
		MFAResult:    models.MFAPass,
		RiskLevel:    models.RiskHigh,
		ScenarioType: "mfa_fatigue",
	}))
	out = append(out, g.event(models.RawEvent{
		Timestamp:    passAt.Add(30 * time.Second),
		User:         user,
		EventType:    models.EventSignIn,
		IPAddress:    loc.ip,
		GeoCity:      loc.city,
		GeoCountry:   loc.country,
		Device:       device,
		App:          g.pick(apps),
		SignInResult: models.SignInSuccess,
		RiskLevel:    models.RiskHigh,
		ScenarioType: "mfa_fatigue",
	}))
	return out
}

// ImpossibleTravel emits two successful sign-ins from distant cities a few
// minutes apart.
func (g *Generator) ImpossibleTravel() []*models.RawEvent {
	user := g.pickUser()
	base := g.now.Add(-time.Duration(1+g.rnd.Intn(24)) * time.Hour)
	first := locations[0]  // New York
	second := locations[4] // Tokyo

	return []*models.RawEvent{
		g.event(models.RawEvent{
			Timestamp:    base,
			User:         user,
			EventType:    models.EventSignIn,
			IPAddress:    first.ip,
			GeoCity:      first.city,
			GeoCountry:   first.country,
			Device:       g.pick(devices),
			App:          g.pick(apps),
			SignInResult: models.SignInSuccess,
			RiskLevel:    models.RiskLow,
			ScenarioType: "impossible_travel",
		}),
		g.event(models.RawEvent{
			Timestamp:    base.Add(time.Duration(5+g.rnd.Intn(10)) * time.Minute),
			User:         user,
			EventType:    models.EventSignIn,
			IPAddress:    second.ip,
			GeoCity:      second.city,
			GeoCountry:   second.country,
			Device:       g.pick(devices),
			App:          g.pick(apps),
			SignInResult: models.SignInSuccess,
			RiskLevel:    models.RiskHigh,
			ScenarioType: "impossible_travel",
		}),
	}
}

// OAuthAbuse emits a high-risk sign-in followed by an OAuth consent
// requesting sensitive scopes.
func (g *Generator) OAuthAbuse() []*models.RawEvent {
	user := g.pickUser()
	loc := g.pickLocation()
	base := g.now.Add(-time.Duration(1+g.rnd.Intn(24)) * time.Hour)

	return []*models.RawEvent{
		g.event(models.RawEvent{
			Timestamp:    base,
			User:         user,
			EventType:    models.EventSignIn,
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			Device:       g.pick(devices),
			App:          g.pick(apps),
			SignInResult: models.SignInSuccess,
			RiskLevel:    models.RiskHigh,
			ScenarioType: "oauth_abuse",
		}),
		g.event(models.RawEvent{
			Timestamp:    base.Add(time.Duration(5+g.rnd.Intn(20)) * time.Minute),
			User:         user,
			EventType:    models.EventOAuthConsent,
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			RiskLevel:    models.RiskHigh,
			OAuthAppName: g.pick(oauthApps),
			OAuthScopes:  []string{"Mail.Read", "Files.Read.All", "offline_access"},
			ScenarioType: "oauth_abuse",
		}),
	}
}

// PrivilegeEscalation emits a high-risk sign-in followed by a privileged
// role assignment.
func (g *Generator) PrivilegeEscalation() []*models.RawEvent {
	user := g.pickUser()
	loc := g.pickLocation()
	base := g.now.Add(-time.Duration(1+g.rnd.Intn(24)) * time.Hour)

	return []*models.RawEvent{
		g.event(models.RawEvent{
			Timestamp:    base,
			User:         user,
			EventType:    models.EventSignIn,
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			Device:       g.pick(devices),
			SignInResult: models.SignInSuccess,
			RiskLevel:    models.RiskHigh,
			ScenarioType: "privilege_escalation",
		}),
		g.event(models.RawEvent{
			Timestamp:    base.Add(time.Duration(10+g.rnd.Intn(30)) * time.Minute),
			User:         user,
			EventType:    models.EventRoleChange,
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			RiskLevel:    models.RiskMedium,
			RoleName:     g.pick(privilegedRoles),
			ScenarioType: "privilege_escalation",
		}),
	}
}

// Benign emits n background events: successful sign-ins and passing MFA
// challenges at low risk.
func (g *Generator) Benign(n int) []*models.RawEvent {
	out := make([]*models.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		// Benign traffic stays at each user's home location so background
		// noise never trips the travel rule.
		idx := g.rnd.Intn(len(users))
		loc := locations[idx%len(locations)]
		ev := models.RawEvent{
			Timestamp:    g.now.Add(-time.Duration(g.rnd.Intn(7*24*60)) * time.Minute),
			User:         users[idx],
			IPAddress:    loc.ip,
			GeoCity:      loc.city,
			GeoCountry:   loc.country,
			Device:       g.pick(devices),
			App:          g.pick(apps),
			RiskLevel:    models.RiskLow,
			ScenarioType: "normal",
		}
		if g.rnd.Intn(4) == 0 {
			ev.EventType = models.EventMFA
			ev.MFAResult = models.MFAPass
		} else {
			ev.EventType = models.EventSignIn
			ev.SignInResult = models.SignInSuccess
			if g.rnd.Intn(10) == 0 {
				ev.SignInResult = models.SignInFail
			}
		}
		out = append(out, g.event(ev))
	}
	return out
}

func (g *Generator) event(ev models.RawEvent) *models.RawEvent {
	g.seq++
	ev.ID = fmt.Sprintf("EVT-%06d", g.seq)
	ev.Timestamp = ev.Timestamp.UTC()
	return &ev
}

func (g *Generator) pickUser() string {
	return users[g.rnd.Intn(len(users))]
}

func (g *Generator) pickLocation() location {
	return locations[g.rnd.Intn(len(locations))]
}

func (g *Generator) pick(values []string) string {
	return values[g.rnd.Intn(len(values))]
}
