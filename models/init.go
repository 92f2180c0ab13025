package models

import "github.com/Ishu-sri-001/neuro-nest/config"

// InitResponse defines the structure for the /api/init endpoint response.
type InitResponse struct {
	Identity          Identity            `json:"identity"`
	GuestMessageLimit int                 `json:"guest_message_limit"`
	Allowance         Allowance           `json:"allowance"`
	Remaining         int                 `json:"remaining"`
	Decision          Decision            `json:"decision"`
	CreditPlans       []config.CreditPlan `json:"credit_plans"`
}
