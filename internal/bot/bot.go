package bot

func NewTelegram(token string, h Handlers) (Bot, error) {
	return newTelegram(token, h)
}

func NewDiscord(token string, h Handlers) (Bot, error) {
	return newDiscord(token, h)
}
