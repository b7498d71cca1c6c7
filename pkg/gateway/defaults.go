package gateway

import "exampro/pkg/domain"

// Built-in reference data used when the hosted store has no Subjects or
// Settings yet, or is unreachable. Serving the defaults keeps the client
// usable; this is an availability fallback, not an error path.

func defaultSubjects() []domain.Subject {
	return []domain.Subject{
		{ID: "maths", Name: "Mathematics", Icon: "📐", Color: "bg-blue-100 text-blue-600"},
		{ID: "english", Name: "English Language", Icon: "📚", Color: "bg-purple-100 text-purple-600"},
		{ID: "physics", Name: "Physics", Icon: "⚛️", Color: "bg-orange-100 text-orange-600"},
		{ID: "chemistry", Name: "Chemistry", Icon: "🧪", Color: "bg-green-100 text-green-600"},
		{ID: "biology", Name: "Biology", Icon: "🧬", Color: "bg-red-100 text-red-600"},
		{ID: "economics", Name: "Economics", Icon: "💹", Color: "bg-indigo-100 text-indigo-600"},
		{ID: "govt", Name: "Government", Icon: "🏛️", Color: "bg-yellow-100 text-yellow-600"},
		{ID: "lit", Name: "Literature", Icon: "🎭", Color: "bg-pink-100 text-pink-600"},
	}
}

func defaultSettings() domain.PaymentSettings {
	return domain.PaymentSettings{
		Bank:          "FCMB",
		AccountNumber: "1043861839",
		AccountName:   "Abraham Blessing Michael",
	}
}
