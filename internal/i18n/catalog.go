package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. The English text is the key itself.
const (
	MsgValidation      = "The submission is incomplete or invalid"
	MsgKernelRejection = "The kernel rejected the command"
	MsgTransport       = "The kernel could not be reached"
	MsgPartialMutation = "The original rule was deleted but its replacement was not added"
	MsgNotFound        = "Not found"
	MsgInternal        = "Internal error"
	MsgBadBody         = "Invalid request body"
	MsgAuditDisabled   = "The audit log is not enabled"
	MsgRefetchFailed   = "The change was applied but the ruleset could not be listed again"
	MsgRateLimited     = "Too many submissions, retry in %d seconds"
)

func init() {
	de := map[string]string{
		MsgValidation:      "Die Eingabe ist unvollständig oder ungültig",
		MsgKernelRejection: "Der Kernel hat den Befehl abgelehnt",
		MsgTransport:       "Der Kernel ist nicht erreichbar",
		MsgPartialMutation: "Die ursprüngliche Regel wurde gelöscht, die neue aber nicht hinzugefügt",
		MsgNotFound:        "Nicht gefunden",
		MsgInternal:        "Interner Fehler",
		MsgBadBody:         "Ungültiger Anfrageinhalt",
		MsgAuditDisabled:   "Das Audit-Protokoll ist nicht aktiviert",
		MsgRefetchFailed:   "Die Änderung wurde übernommen, der Regelsatz konnte aber nicht neu gelesen werden",
		MsgRateLimited:     "Zu viele Änderungen, bitte in %d Sekunden erneut versuchen",
	}
	for key, text := range de {
		_ = message.SetString(language.German, key, text)
	}
}
