package api

import "github.com/vmark/vmark-node/pkg/forwarding"

// Response is the envelope for all JSON API responses.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse reports daemon health.
type StatusResponse struct {
	Uptime      string `json:"uptime"`
	RuleCount   int    `json:"rule_count"`
	ActiveRules int    `json:"active_rules"`
	Sessions    int    `json:"twamp_sessions"`
}

// RuleRequest is the JSON body for rule create/update.
type RuleRequest struct {
	Name         string  `json:"name"`
	InInterface  string  `json:"in_interface"`
	SVlan        *uint16 `json:"svlan"`
	CVlan        *uint16 `json:"cvlan"`
	OutInterface string  `json:"out_interface"`
	PopTags      int     `json:"pop_tags"`
	PushSVlan    *uint16 `json:"push_svlan"`
	PushCVlan    *uint16 `json:"push_cvlan"`
	Active       bool    `json:"active"`
}

func (r *RuleRequest) params() forwarding.RuleParams {
	return forwarding.RuleParams{
		Name:         r.Name,
		InInterface:  r.InInterface,
		OutInterface: r.OutInterface,
		SVlan:        r.SVlan,
		CVlan:        r.CVlan,
		PopTags:      r.PopTags,
		PushSVlan:    r.PushSVlan,
		PushCVlan:    r.PushCVlan,
		Active:       r.Active,
	}
}

// RulesResponse is the show-forwarding JSON shape: the persisted document
// augmented with active and inverse rows.
type RulesResponse struct {
	Rules      []*forwarding.Rule `json:"rules"`
	NotApplied map[string]string  `json:"not_applied,omitempty"`
}

// TwampSenderRequest starts a sender session.
type TwampSenderRequest struct {
	Name        string  `json:"name"`
	Destination string  `json:"destination_ip"`
	Port        int     `json:"port"`
	Count       int     `json:"count"`
	IntervalMs  int     `json:"interval_ms"`
	Padding     int     `json:"padding"`
	TTL         int     `json:"ttl"`
	TOS         int     `json:"tos"`
	DSCP        *string `json:"dscp"`
	DF          bool    `json:"do_not_fragment"`
}

// TwampResponderRequest starts a responder session.
type TwampResponderRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Padding int    `json:"padding"`
	TTL     int    `json:"ttl"`
	TOS     int    `json:"tos"`
	DF      bool   `json:"do_not_fragment"`
	IPv6    bool   `json:"ipv6"`
}
