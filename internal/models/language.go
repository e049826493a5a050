package models

import "strings"

// Language constants
const (
	LangEnglish = "en"
	LangRussian = "ru"
)

// DefaultLanguage is used for unknown codes and missing keys.
const DefaultLanguage = LangEnglish

// Translation is a map of message keys to translated text
type Translation map[string]string

// Translations stores all language translations
var Translations = map[string]Translation{
	LangEnglish: {
		"help_title":         "Post Planner Bot",
		"help_description":   "Schedule posts for a chat, get a reminder before they go out and let the bot publish them on time.",
		"help_commands":      "Commands:",
		"help_cmd_schedule":  "/schedule DD.MM.YYYY HH:MM [minutes] [manual] - plan a post; the next message is its content",
		"help_cmd_posts":     "/posts - list your scheduled posts",
		"help_cmd_cancel":    "/cancel ID - cancel a post",
		"help_cmd_published": "/published ID - close a reminder-only post you published yourself",
		"help_cmd_postpone":  "/postpone ID DD.MM.YYYY HH:MM [minutes] - move a post",
		"help_cmd_use":       "/use - take control of the bot in a group",
		"help_cmd_start":     "/start - reset the current flow",
		"help_note":          "Times are in %s. [minutes] is the reminder lead time, default %d. Add \"manual\" to only get a reminder.",

		// Command descriptions for Telegram command menu
		"cmd_desc_start":     "Reset the current flow",
		"cmd_desc_help":      "Show help",
		"cmd_desc_schedule":  "Schedule a post",
		"cmd_desc_posts":     "List scheduled posts",
		"cmd_desc_cancel":    "Cancel a post",
		"cmd_desc_published": "Mark a reminder-only post as published",
		"cmd_desc_postpone":  "Postpone a post",
		"cmd_desc_use":       "Take control of the bot in a group",

		"flow_reset":            "Ready. Use /schedule to plan a post.",
		"use_granted":           "You are now the one using the bot in this chat.",
		"use_already":           "You are already using the bot in this chat.",
		"schedule_usage":        "Usage: /schedule DD.MM.YYYY HH:MM [minutes] [manual]",
		"schedule_send_content": "Publishing at %s. Now send the post: text, or a photo with a caption.",
		"schedule_done":         "Post %s scheduled for %s. Reminder at %s.",
		"schedule_done_manual":  "Reminder for post %s set at %s. It will not be published automatically.",
		"schedule_empty":        "The post is empty. Send text or a photo.",
		"postpone_usage":        "Usage: /postpone ID DD.MM.YYYY HH:MM [minutes]",
		"postpone_done":         "Post %s moved to %s.",
		"cancel_usage":          "Usage: /cancel ID",
		"cancel_done":           "Post %s cancelled.",
		"published_usage":       "Usage: /published ID",
		"published_done":        "Post %s marked as published.",
		"posts_empty":           "You have no scheduled posts.",
		"posts_title":           "Your scheduled posts:",
		"posts_item":            "• %s at %s (%s)",
		"post_auto":             "auto",
		"post_manual":           "reminder only",

		"reminder_notice":  "Reminder: a post is scheduled for %s",
		"reminder_no_text": "Scheduled post without text.",
		"error_validation": "Cannot do that: %s",
		"error_not_found":  "Post not found.",
		"error_rate_limit": "Too many operations. Try again in %s.",
		"error_busy":       "Someone else is using the bot in this chat right now.",
		"error_try_later":  "Something went wrong. Try again later.",
		"error_group_only": "This command only works in a group chat.",
	},
	LangRussian: {
		"help_title":         "Планировщик постов",
		"help_description":   "Планируйте посты для чата, получайте напоминание заранее, а бот опубликует их вовремя.",
		"help_commands":      "Команды:",
		"help_cmd_schedule":  "/schedule ДД.ММ.ГГГГ ЧЧ:ММ [минуты] [manual] - запланировать пост; следующее сообщение станет его содержимым",
		"help_cmd_posts":     "/posts - ваши запланированные посты",
		"help_cmd_cancel":    "/cancel ID - отменить пост",
		"help_cmd_published": "/published ID - закрыть пост без автопубликации, который вы опубликовали сами",
		"help_cmd_postpone":  "/postpone ID ДД.ММ.ГГГГ ЧЧ:ММ [минуты] - перенести пост",
		"help_cmd_use":       "/use - взять управление ботом в группе",
		"help_cmd_start":     "/start - сбросить текущий сценарий",
		"help_note":          "Время указывается в %s. [минуты] - за сколько напомнить, по умолчанию %d. Добавьте \"manual\", чтобы получить только напоминание.",

		"cmd_desc_start":     "Сбросить текущий сценарий",
		"cmd_desc_help":      "Помощь",
		"cmd_desc_schedule":  "Запланировать пост",
		"cmd_desc_posts":     "Запланированные посты",
		"cmd_desc_cancel":    "Отменить пост",
		"cmd_desc_published": "Отметить пост как опубликованный",
		"cmd_desc_postpone":  "Перенести пост",
		"cmd_desc_use":       "Взять управление ботом в группе",

		"flow_reset":            "Готово. Используйте /schedule, чтобы запланировать пост.",
		"use_granted":           "Теперь ботом в этом чате управляете вы.",
		"use_already":           "Вы уже управляете ботом в этом чате.",
		"schedule_usage":        "Формат: /schedule ДД.ММ.ГГГГ ЧЧ:ММ [минуты] [manual]",
		"schedule_send_content": "Публикация в %s. Теперь отправьте пост: текст или фото с подписью.",
		"schedule_done":         "Пост %s запланирован на %s. Напоминание в %s.",
		"schedule_done_manual":  "Напоминание о посте %s придёт в %s. Автоматической публикации не будет.",
		"schedule_empty":        "Пост пустой. Отправьте текст или фото.",
		"postpone_usage":        "Формат: /postpone ID ДД.ММ.ГГГГ ЧЧ:ММ [минуты]",
		"postpone_done":         "Пост %s перенесён на %s.",
		"cancel_usage":          "Формат: /cancel ID",
		"cancel_done":           "Пост %s отменён.",
		"published_usage":       "Формат: /published ID",
		"published_done":        "Пост %s отмечен как опубликованный.",
		"posts_empty":           "У вас нет запланированных постов.",
		"posts_title":           "Ваши запланированные посты:",
		"posts_item":            "• %s в %s (%s)",
		"post_auto":             "авто",
		"post_manual":           "только напоминание",

		"reminder_notice":  "Напоминание о запланированном посте %s",
		"reminder_no_text": "Запланирован пост без текстового описания.",
		"error_validation": "Невозможно выполнить: %s",
		"error_not_found":  "Пост не найден.",
		"error_rate_limit": "Слишком много операций. Попробуйте через %s.",
		"error_busy":       "Сейчас ботом в этом чате пользуется другой участник.",
		"error_try_later":  "Что-то пошло не так. Попробуйте позже.",
		"error_group_only": "Эта команда работает только в групповом чате.",
	},
}

// GetTranslation returns the correct translation for a given language code and key
func GetTranslation(lang, key string) string {
	if _, ok := Translations[lang]; !ok {
		lang = DefaultLanguage
	}

	if translation, ok := Translations[lang][key]; ok {
		return translation
	}

	// Fall back to the default language if the key is missing
	if translation, ok := Translations[DefaultLanguage][key]; ok {
		return translation
	}

	return key
}

// GetLanguageName returns the localized name of a language code
func GetLanguageName(langCode string) string {
	switch langCode {
	case LangEnglish:
		return "English"
	case LangRussian:
		return "Русский"
	default:
		return langCode
	}
}

// SupportedLanguages lists the language codes with a translation table
func SupportedLanguages() []string {
	return []string{LangEnglish, LangRussian}
}

// NormalizeLanguage maps a client language tag such as "ru-RU" onto a
// supported code.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if _, ok := Translations[code]; ok {
		return code
	}
	return DefaultLanguage
}
