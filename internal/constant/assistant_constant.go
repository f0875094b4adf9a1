package constant

const (
	// First message of a brand-new conversation.
	WelcomeMessage = "Welkom! Ik ben uw AI-assistent voor medische documenten. " +
		"U kunt mij vragen stellen in gewoon Nederlands - bijvoorbeeld " +
		"\"Wat zijn de medicijnen van mevrouw Jansen?\" of \"Wanneer verlopen de indicaties?\". " +
		"Hoe kan ik u helpen?"

	// Mode-specific welcome shown after an explicit new-conversation action.
	WelcomeMessageUploaded = "Welkom terug! Ik ben klaar om uw vragen over de geüploade documenten te beantwoorden. " +
		"Stel gerust uw vraag in gewoon Nederlands."
	WelcomeMessageDatabase = "Welkom terug! Ik kan uw vragen over cliënten, facturen en afspraken in de database beantwoorden."
	WelcomeMessageExternal = "Welkom terug! Ik doorzoek het volledige documentarchief voor u. Waar bent u naar op zoek?"

	// Event topics (in-process bus; mirrored to NATS when configured)
	SessionSaveTopic = "assistant.session.save"
	FeedbackTopic    = "assistant.feedback"
)
