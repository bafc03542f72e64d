package i18n

func init() {
	RegisterCatalog(BaseLocale, NewCatalog(BaseLocale, map[Code]string{
		"UNKNOWN":                  "Something went wrong.",
		"CONFIG_VALIDATION":        "The rule catalog is invalid: {{.reason}}",
		"NO_ACTIVE_BATCH":          "No turn is collecting actions for this guild right now.",
		"INTENT_INVALID":           "The submitted action is missing required fields.",
		"BATCH_NOT_ABORTABLE":      "The turn has already closed intake and can no longer be aborted.",
		"UNKNOWN_CONFLICT":         "No conflict with id {{.conflict_id}} is awaiting a decision.",
		"MANUAL_OPTION_INVALID":    "Unsupported resolution outcome {{.outcome_type}}.",
		"DICE_INVALID_FORMULA":     "Dice formula {{.formula}} could not be parsed.",
		"INVALID_STATE_TRANSITION": "The turn cannot move from {{.from}} to {{.to}}.",
		"RELOAD_DURING_TURN":       "Rules cannot be reloaded while a turn is in flight.",
		"TURN_FAILED":              "The turn failed and was abandoned: {{.reason}}",
		"NOT_FOUND":                "The requested record was not found.",
		"PERSISTENCE_FAILURE":      "The action could not be saved. Please retry.",
	}))
}
