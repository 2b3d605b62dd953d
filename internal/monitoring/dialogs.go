package monitoring

import (
	"fmt"

	"monview/internal/domain"
)

func missingPlanDialog(accountURL string) domain.Dialog {
	return domain.Dialog{
		Kind:  domain.DialogOK,
		Title: "No plan",
		Body: []domain.Block{
			{Paragraph: "In order to use the monitoring service you have to purchase a plan."},
			{Paragraph: "You can do that in the Account page, or follow the link below:"},
			{Link: "Account page", Href: accountURL},
		},
	}
}

func installCommandDialog(command string, onResult func(bool)) domain.Dialog {
	return domain.Dialog{
		Kind:  domain.DialogOKCancel,
		Title: "Enable monitoring",
		Body: []domain.Block{
			{Paragraph: "Automatic installation of monitoring requires an SSH key."},
			{Paragraph: "Run this command on your server for manual installation:"},
			{Command: command},
		},
		OnResult: onResult,
	}
}

func enableDialog(onResult func(bool)) domain.Dialog {
	return domain.Dialog{
		Kind:     domain.DialogYesNo,
		Title:    "Enable monitoring",
		Body:     []domain.Block{{Paragraph: "Are you sure you want to enable monitoring for this machine?"}},
		OnResult: onResult,
	}
}

func disableDialog(onResult func(bool)) domain.Dialog {
	return domain.Dialog{
		Kind:     domain.DialogYesNo,
		Title:    "Disable monitoring",
		Body:     []domain.Block{{Paragraph: "Are you sure you want to disable monitoring for this machine?"}},
		OnResult: onResult,
	}
}

func removeGraphDialog(metric *domain.Metric, machine *domain.Machine, onResult func(bool)) domain.Dialog {
	message := fmt.Sprintf("Are you sure you want to remove %q", metricTitle(metric))
	if metric.IsPlugin {
		message += " and disable it from server " + machine.DisplayName()
	}
	message += "?"
	return domain.Dialog{
		Kind:     domain.DialogYesNo,
		Title:    "Remove graph",
		Body:     []domain.Block{{Paragraph: message}},
		OnResult: onResult,
	}
}
