package safety

var highResponses = []string{
	"I can hear how much pain you're in, and I'm really concerned about you. Your life matters. Please contact a crisis line right now; in the US you can call or text 988. If you are in immediate danger, call emergency services or go to the nearest emergency room.",
	"What you're describing sounds overwhelming, and you don't have to carry it alone. Feelings this intense can change, and trained people are ready to help this minute. In the US call 988, in the UK call Samaritans on 116 123, or contact your local emergency number.",
	"I'm worried about your safety after what you just shared. Please reach out for immediate help from a crisis line or emergency services. You deserve real support through this, and there are people trained to help you right now.",
}

var mediumResponses = []string{
	"It sounds like you're going through something really hard right now. You don't have to face it alone. Would you consider talking to a counselor or someone you trust? If things get more intense, crisis support is available any time, day or night.",
	"You're carrying a lot at the moment, and those feelings make sense. A mental health professional could give you support that fits what you're going through. If you ever feel unsafe, a crisis line is always there.",
	"Thank you for telling me how heavy things feel. When pain starts to feel unbearable, talking to someone trained for these moments can really help. Would you think about reaching out to a therapist? And if it gets overwhelming, crisis lines are always open.",
}
