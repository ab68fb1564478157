package maxbot

// Canned replies, in Russian like the answer base itself.
const (
	startText = `👋 Привет! Я — Alma, помощник по образовательным вопросам.

Помогу найти ответы на вопросы об учёбе:
📚 Программы обучения и специальности
📝 Экзамены и требования к поступлению
📅 Сроки подачи документов
🏠 Общежития и стипендии
📖 Учебные планы и расписание

Просто задайте свой вопрос!

💡 Команды:
/help - примеры вопросов
/info - о боте`

	helpText = `📚 Примеры вопросов:

О поступлении:
• "Какие документы нужны для поступления?"
• "Когда начинается приём документов?"
• "Какие экзамены нужно сдавать на программирование?"
• "Есть ли бюджетные места?"

Об обучении:
• "Какие специальности есть в вузе?"
• "Сколько длится обучение?"
• "Есть ли общежитие для иногородних?"
• "Какая стипендия для отличников?"

💡 Формулируйте вопрос конкретно для лучшего результата!`

	infoText = `ℹ️ О боте Alma:

Я — образовательный помощник. Помогаю студентам и абитуриентам быстро находить нужную информацию.

🎓 Что я знаю:
• Правила приёма и поступления
• Образовательные программы и специальности
• Требования к документам и экзаменам
• Информацию об общежитиях и стипендиях
• Учебные планы и расписания

📚 Все ответы основаны на официальной информации учебного заведения`

	thinkingText = "🔍 Ищу ответ..."

	answerPrefix = "💡 Ответ:\n\n"

	noMatchText = "❌ К сожалению, я не смог найти подходящий ответ на ваш вопрос.\n\n" +
		"Попробуйте переформулировать вопрос или используйте другие ключевые слова."

	tryLaterText = "⚠️ Произошла ошибка при поиске ответа.\n\n" +
		"Попробуйте позже или обратитесь к администратору."
)

// commandReplies maps recognized slash commands to their canned replies.
var commandReplies = map[string]string{
	"start": startText,
	"help":  helpText,
	"info":  infoText,
}
