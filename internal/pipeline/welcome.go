package pipeline

var welcomeMessages = []string{
	"Hello, I'm here to listen and support you today. What would you like to talk about?",
	"Hi there. I'm glad you decided to reach out today. What's been on your mind?",
	"Welcome. This is a safe space for you to share whatever you're feeling. How are you doing today?",
	"Hello. I'm here to provide a supportive ear. What would you like to explore together today?",
}

// Welcome returns a greeting chosen uniformly from a fixed table.
func (o *Orchestrator) Welcome() string {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return welcomeMessages[o.rng.IntN(len(welcomeMessages))]
}
