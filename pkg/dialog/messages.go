package dialog

// User-facing texts. The bot talks to Russian speakers; prompts are translated
// to English before generation.
const (
	TextGreeting       = "Привет! Отправь описание изображения, и я его сгенерирую.\nВыбери модель:"
	TextChosen         = "Выбрана модель: %s\nТеперь отправь описание изображения:"
	TextChooseProvider = "Выбери модель с помощью кнопок ниже."
	TextEmptyPrompt    = "Описание не может быть пустым!"
	TextGenerating     = "Генерация..."
	TextGenerationFail = "Ошибка генерации. Попробуй другой запрос."
	TextDeliveryFailed = "Не удалось отправить изображение из-за проблем с соединением. Попробуйте еще раз."
	TextDeliveryError  = "Произошла ошибка при отправке изображения. Попробуйте еще раз."
	TextCancelled      = "Действие отменено. Выбери модель заново."
	TextUnexpected     = "Произошла непредвиденная ошибка. Пожалуйста, попробуйте позже."

	CaptionFormat = "Запрос: %s\n(Перевод: %s)"

	// Telegram rejects photo captions over 1024 characters.
	maxCaptionLength = 1000
)
