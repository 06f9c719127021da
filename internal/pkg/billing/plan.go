package billing

import (
	"strings"

	"github.com/hauntedempire/paycore/app/models"
)

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "day", "week", "month", "year":
		return i
	default:
		return ""
	}
}

func normalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), models.PurchaseModeSubscription) {
		return models.PurchaseModeSubscription
	}
	return models.PurchaseModePayment
}

func normalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
