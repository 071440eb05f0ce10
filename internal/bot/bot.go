package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartjar/internal/api"
	"smartjar/internal/course"
	"smartjar/internal/model"
	"smartjar/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota

	stageLoginEmail
	stageLoginPassword

	stageRegName
	stageRegEmail
	stageRegPassword
	stageRegDependent

	stageCourseUser
	stageCourseMedicine
	stageCourseSpc
	stageCourseStart
	stageCourseFinish
	stageCourseTimetable
	stageCourseDuration

	stageBindUser
	stageBindSerial

	stageInviteEmail
	stageInviteCode

	stageForgotEmail
	stageForgotCode
	stageForgotPassword

	stageRename
)

const (
	cbDeletePrefix = "delcourse:"
	cbStatsPrefix  = "stats:"
	cbRingPrefix   = "ring:"
	cbUnbindPrefix = "unbind:"
)

const (
	btnYes          = "Да"
	btnNo           = "Нет"
	btnConfirm      = "✅ Подтвердить"
	btnCancel       = "↩️ Отмена"
	btnCancelDialog = "⏪ Отменить ввод"

	menuLabelCourses   = "💊 Курсы"
	menuLabelToday     = "📋 Сегодня"
	menuLabelNewCourse = "➕ Новый курс"
	menuLabelSpc       = "📦 Дозаторы"
	menuLabelWards     = "👥 Опекаемые"
	menuLabelHelp      = "ℹ️ Помощь"
)

type conversationState struct {
	stage conversationStage

	loginEmail string

	ward bool
	reg  service.RegistrationInput

	course service.CourseInput

	bindUserID int64

	invite *api.MonitoringInvite

	recoveryEmail string
	recoveryCode  string
}

type confirmationRequest struct {
	courseID int64
}

// Bot is the presentation layer: it maps the Smart Jar screens onto Telegram
// commands and conversations.
type Bot struct {
	api        *tgbotapi.BotAPI
	sessionSvc *service.SessionService
	courseSvc  *service.CourseService
	spcSvc     *service.SpcService
	accountSvc *service.AccountService
	summarySvc *service.SummaryService

	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(botAPI *tgbotapi.BotAPI, sessionSvc *service.SessionService, courseSvc *service.CourseService, spcSvc *service.SpcService, accountSvc *service.AccountService, summarySvc *service.SummaryService) *Bot {
	log.Printf("[info] bot authorized on account %s", botAPI.Self.UserName)

	return &Bot{
		api:           botAPI,
		sessionSvc:    sessionSvc,
		courseSvc:     courseSvc,
		spcSvc:        spcSvc,
		accountSvc:    accountSvc,
		summarySvc:    summarySvc,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := msg.Chat.ID

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(chatID)
		b.clearConfirmation(chatID)
		return b.sendText(chatID, "⏪ Ввод отменён.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", chatID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(chatID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(chatID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(chatID, "Я не понял сообщение. Загляни в /help за списком команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "login":
		return b.startLoginConversation(msg)
	case "register":
		return b.startRegisterConversation(msg, false)
	case "logout":
		return b.handleLogout(ctx, msg)
	case "courses":
		return b.handleCourses(ctx, msg, false)
	case "finished":
		return b.handleCourses(ctx, msg, true)
	case "today":
		return b.handleToday(ctx, msg)
	case "newcourse":
		return b.startCourseConversation(ctx, msg)
	case "spc":
		return b.handleSpcList(ctx, msg)
	case "bindspc":
		return b.startBindConversation(ctx, msg)
	case "wards":
		return b.handleWards(ctx, msg)
	case "addward":
		return b.startInviteConversation(ctx, msg)
	case "newward":
		return b.startRegisterConversation(msg, true)
	case "profile":
		return b.handleProfile(ctx, msg)
	case "name":
		return b.startRenameConversation(ctx, msg)
	case "independent":
		return b.handleIndependent(ctx, msg)
	case "forgot":
		return b.startForgotConversation(msg)
	case "cancel":
		b.clearConversation(msg.Chat.ID)
		b.clearConfirmation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "⏪ Текущий ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if user, err := b.sessionSvc.Restore(ctx, msg.Chat.ID); err == nil {
		text := fmt.Sprintf("👋 С возвращением, %s!\nНапоминания о приёмах восстановлены. Команды — в /help.", escape(user.Username))
		return b.sendText(msg.Chat.ID, text)
	}

	text := "👋 Привет!\n<b>Я — Умная банка: напомню о каждом приёме лекарства тебе и твоим близким.</b>\n\n" +
		"• /login — войти в аккаунт\n" +
		"• /register — создать аккаунт\n" +
		"• /forgot — восстановить пароль\n" +
		"• /help — все команды"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Команды</b>\n" +
		"• /courses — активные курсы (и кнопки статистики/удаления)\n" +
		"• /finished — завершённые курсы\n" +
		"• /newcourse — добавить курс приёма\n" +
		"• /today — приёмы на сегодня\n" +
		"• /spc — дозаторы семьи (позвонить, отвязать)\n" +
		"• /bindspc — привязать дозатор\n" +
		"• /wards — опекаемые\n" +
		"• /addward — пригласить опекаемого по email\n" +
		"• /newward — зарегистрировать опекаемого\n" +
		"• /profile — мой профиль\n" +
		"• /name — изменить имя\n" +
		"• /independent — управлять дозаторами самостоятельно\n" +
		"• /forgot — восстановить пароль\n" +
		"• /logout — выйти\n" +
		"• /cancel — отменить текущий ввод"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleLogout(ctx context.Context, msg *tgbotapi.Message) error {
	if b.sessionSvc.Current(msg.Chat.ID) == nil {
		return b.sendText(msg.Chat.ID, "Ты и так не в аккаунте. /login — войти.")
	}
	if err := b.sessionSvc.Logout(ctx, msg.Chat.ID); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось выйти: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, "👋 Ты вышла из аккаунта, напоминания отключены.")
}

// requireUser returns the chat's snapshot or prompts to log in.
func (b *Bot) requireUser(ctx context.Context, chatID int64) (*model.User, error) {
	if user := b.sessionSvc.Current(chatID); user != nil {
		return user, nil
	}
	if user, err := b.sessionSvc.Restore(ctx, chatID); err == nil {
		return user, nil
	}
	return nil, b.sendText(chatID, "Сначала войди в аккаунт: /login")
}

// Login conversation.

func (b *Bot) startLoginConversation(msg *tgbotapi.Message) error {
	b.setConversation(msg.Chat.ID, &conversationState{stage: stageLoginEmail})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🔐 Вход.\n<b>Шаг 1:</b> введи email.", cancelKeyboard())
}

// Registration conversation (both own account and ward).

func (b *Bot) startRegisterConversation(msg *tgbotapi.Message, ward bool) error {
	state := &conversationState{stage: stageRegName, ward: ward}
	b.setConversation(msg.Chat.ID, state)
	if ward {
		return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Регистрируем опекаемого.\n<b>Шаг 1:</b> как его зовут?", cancelKeyboard())
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Создаём аккаунт.\n<b>Шаг 1:</b> как тебя зовут?", cancelKeyboard())
}

// Course creation conversation.

func (b *Bot) startCourseConversation(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}
	state := &conversationState{stage: stageCourseUser}
	if len(user.SpcOwners) == 0 {
		state.course.UserID = user.ID
		state.stage = stageCourseMedicine
		b.setConversation(msg.Chat.ID, state)
		return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Новый курс.\n<b>Шаг 1:</b> название лекарства?", cancelKeyboard())
	}
	b.setConversation(msg.Chat.ID, state)
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Новый курс.\n<b>Шаг 1:</b> для кого он?", familyKeyboard(user))
}

func (b *Bot) startBindConversation(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}
	state := &conversationState{stage: stageBindUser}
	if len(user.SpcOwners) == 0 {
		state.bindUserID = user.ID
		state.stage = stageBindSerial
		b.setConversation(msg.Chat.ID, state)
		return b.sendWithReplyMarkup(msg.Chat.ID, "📦 Привязка дозатора.\nВведи серийный номер с наклейки.", cancelKeyboard())
	}
	b.setConversation(msg.Chat.ID, state)
	return b.sendWithReplyMarkup(msg.Chat.ID, "📦 Привязка дозатора.\nЧей это дозатор?", familyKeyboard(user))
}

func (b *Bot) startInviteConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if user, err := b.requireUser(ctx, msg.Chat.ID); user == nil {
		return err
	}
	b.setConversation(msg.Chat.ID, &conversationState{stage: stageInviteEmail})
	return b.sendWithReplyMarkup(msg.Chat.ID, "👥 Приглашение опекаемого.\nВведи email зарегистрированного пользователя.", cancelKeyboard())
}

func (b *Bot) startRenameConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if user, err := b.requireUser(ctx, msg.Chat.ID); user == nil {
		return err
	}
	if name := strings.TrimSpace(msg.CommandArguments()); name != "" {
		return b.finishRename(ctx, msg.Chat.ID, name)
	}
	b.setConversation(msg.Chat.ID, &conversationState{stage: stageRename})
	return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Введи новое имя.", cancelKeyboard())
}

func (b *Bot) startForgotConversation(msg *tgbotapi.Message) error {
	b.setConversation(msg.Chat.ID, &conversationState{stage: stageForgotEmail})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🔑 Восстановление пароля.\nВведи email аккаунта.", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	state := b.getConversation(chatID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageLoginEmail:
		state.loginEmail = text
		state.stage = stageLoginPassword
		return b.sendWithReplyMarkup(chatID, "<b>Шаг 2:</b> введи пароль.", cancelKeyboard())
	case stageLoginPassword:
		b.clearConversation(chatID)
		user, err := b.sessionSvc.Login(ctx, chatID, state.loginEmail, text)
		if err != nil {
			return b.sendText(chatID, fmt.Sprintf("Войти не получилось: %s\nПопробуй ещё раз: /login", escape(errText(err))))
		}
		return b.sendText(chatID, fmt.Sprintf("✅ Привет, %s! Напоминания о приёмах включены.", escape(user.Username)))

	case stageRegName:
		state.reg.Username = text
		state.stage = stageRegEmail
		return b.sendWithReplyMarkup(chatID, "<b>Шаг 2:</b> email.", cancelKeyboard())
	case stageRegEmail:
		state.reg.Email = text
		state.stage = stageRegPassword
		return b.sendWithReplyMarkup(chatID, "<b>Шаг 3:</b> пароль (не короче 6 символов).", cancelKeyboard())
	case stageRegPassword:
		state.reg.Password = text
		if state.ward {
			return b.finishWardRegistration(ctx, chatID, state)
		}
		state.stage = stageRegDependent
		return b.sendWithReplyMarkup(chatID, "Будешь управлять дозаторами самостоятельно?", yesNoKeyboard())
	case stageRegDependent:
		answer, ok := parseYesNo(text)
		if !ok {
			return b.sendWithReplyMarkup(chatID, "Нажми «Да» или «Нет».", yesNoKeyboard())
		}
		state.reg.IsDependent = answer
		return b.finishRegistration(ctx, chatID, state)

	case stageCourseUser:
		user := b.sessionSvc.Current(chatID)
		member := findMember(user, text)
		if member == nil {
			return b.sendWithReplyMarkup(chatID, "Выбери пользователя кнопкой.", familyKeyboard(user))
		}
		state.course.UserID = member.ID
		state.stage = stageCourseMedicine
		return b.sendWithReplyMarkup(chatID, "Название лекарства?", cancelKeyboard())
	case stageCourseMedicine:
		state.course.Medicine = text
		state.stage = stageCourseSpc
		user := b.sessionSvc.Current(chatID)
		return b.sendWithReplyMarkup(chatID, "Серийный номер дозатора?", spcKeyboard(user, state.course.UserID))
	case stageCourseSpc:
		state.course.Spc = text
		state.stage = stageCourseStart
		return b.sendWithReplyMarkup(chatID, "Дата начала курса в формате <code>2026-09-01</code>?", cancelKeyboard())
	case stageCourseStart:
		if _, err := time.Parse(model.DateLayout, text); err != nil {
			return b.sendWithReplyMarkup(chatID, "Не могу распознать дату. Формат: <code>2026-09-01</code>.", cancelKeyboard())
		}
		state.course.DateStarted = text
		state.stage = stageCourseFinish
		return b.sendWithReplyMarkup(chatID, "Дата окончания курса (включительно)?", cancelKeyboard())
	case stageCourseFinish:
		if _, err := time.Parse(model.DateLayout, text); err != nil {
			return b.sendWithReplyMarkup(chatID, "Не могу распознать дату. Формат: <code>2026-09-14</code>.", cancelKeyboard())
		}
		if text < state.course.DateStarted {
			return b.sendWithReplyMarkup(chatID, "Окончание раньше начала. Введи дату не раньше "+escape(state.course.DateStarted)+".", cancelKeyboard())
		}
		state.course.DateFinished = text
		state.stage = stageCourseTimetable
		return b.sendWithReplyMarkup(chatID, "Время приёмов через запятую, например <code>09:00, 15:00, 21:00</code>.", cancelKeyboard())
	case stageCourseTimetable:
		timetable, err := parseTimetable(text)
		if err != nil {
			return b.sendWithReplyMarkup(chatID, fmt.Sprintf("Не получилось: %s. Пример: <code>09:00, 21:00</code>.", escape(err.Error())), cancelKeyboard())
		}
		state.course.Timetable = timetable
		state.stage = stageCourseDuration
		return b.sendWithReplyMarkup(chatID, "Сколько секунд даётся на приём? (например, 600)", cancelKeyboard())
	case stageCourseDuration:
		seconds, err := strconv.Atoi(text)
		if err != nil || seconds <= 0 {
			return b.sendWithReplyMarkup(chatID, "Длительность должна быть положительным числом секунд.", cancelKeyboard())
		}
		state.course.TakeDurationSec = seconds
		return b.finishCourseCreation(ctx, chatID, state)

	case stageBindUser:
		user := b.sessionSvc.Current(chatID)
		member := findMember(user, text)
		if member == nil {
			return b.sendWithReplyMarkup(chatID, "Выбери пользователя кнопкой.", familyKeyboard(user))
		}
		state.bindUserID = member.ID
		state.stage = stageBindSerial
		return b.sendWithReplyMarkup(chatID, "Введи серийный номер с наклейки дозатора.", cancelKeyboard())
	case stageBindSerial:
		b.clearConversation(chatID)
		if err := b.spcSvc.Bind(ctx, chatID, text, state.bindUserID); err != nil {
			return b.sendText(chatID, fmt.Sprintf("Привязать не удалось: %s\nПроверь номер и повтори /bindspc.", escape(errText(err))))
		}
		return b.sendText(chatID, fmt.Sprintf("✅ Дозатор <code>%s</code> привязан.", escape(text)))

	case stageInviteEmail:
		invite, err := b.accountSvc.InviteWard(ctx, text)
		if err != nil {
			return b.sendWithReplyMarkup(chatID, fmt.Sprintf("Не получилось: %s. Введи email ещё раз.", escape(errText(err))), cancelKeyboard())
		}
		state.invite = invite
		state.stage = stageInviteCode
		return b.sendWithReplyMarkup(chatID,
			fmt.Sprintf("📨 Код отправлен на %s (%s). Введи код, который назовёт опекаемый.",
				escape(invite.AddresseeEmail), escape(invite.AddresseeName)), cancelKeyboard())
	case stageInviteCode:
		if state.invite == nil || text != state.invite.Code {
			return b.sendWithReplyMarkup(chatID, "Код не совпадает. Попробуй ещё раз.", cancelKeyboard())
		}
		b.clearConversation(chatID)
		if err := b.accountSvc.ConfirmWard(ctx, chatID, state.invite.SpcOwnerID); err != nil {
			return b.sendText(chatID, fmt.Sprintf("Связать не удалось: %s", escape(errText(err))))
		}
		return b.sendText(chatID, fmt.Sprintf("✅ %s теперь под твоей опекой.", escape(state.invite.AddresseeName)))

	case stageForgotEmail:
		code, err := b.accountSvc.RecoveryCode(ctx, text)
		if err != nil {
			return b.sendWithReplyMarkup(chatID, fmt.Sprintf("Не получилось: %s. Введи email ещё раз.", escape(errText(err))), cancelKeyboard())
		}
		state.recoveryEmail = text
		state.recoveryCode = code
		state.stage = stageForgotCode
		return b.sendWithReplyMarkup(chatID, "📨 Код отправлен на почту. Введи его сюда.", cancelKeyboard())
	case stageForgotCode:
		if text != state.recoveryCode {
			return b.sendWithReplyMarkup(chatID, "Код не совпадает. Попробуй ещё раз.", cancelKeyboard())
		}
		state.stage = stageForgotPassword
		return b.sendWithReplyMarkup(chatID, "Введи новый пароль (не короче 6 символов).", cancelKeyboard())
	case stageForgotPassword:
		b.clearConversation(chatID)
		if err := b.accountSvc.ChangePassword(ctx, state.recoveryEmail, text); err != nil {
			return b.sendText(chatID, fmt.Sprintf("Сменить пароль не удалось: %s", escape(errText(err))))
		}
		return b.sendText(chatID, "✅ Пароль обновлён. Теперь войди: /login")

	case stageRename:
		b.clearConversation(chatID)
		return b.finishRename(ctx, chatID, text)

	default:
		b.clearConversation(chatID)
		return b.sendText(chatID, "Диалог сброшен. Попробуй ещё раз.")
	}
}

func (b *Bot) finishRegistration(ctx context.Context, chatID int64, state *conversationState) error {
	b.clearConversation(chatID)
	if _, err := b.accountSvc.Register(ctx, state.reg); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Зарегистрироваться не удалось: %s\nПопробуй ещё раз: /register", escape(errText(err))))
	}
	return b.sendText(chatID, "✅ Аккаунт создан. Теперь войди: /login")
}

func (b *Bot) finishWardRegistration(ctx context.Context, chatID int64, state *conversationState) error {
	b.clearConversation(chatID)
	if _, err := b.accountSvc.RegisterWard(ctx, chatID, state.reg); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Зарегистрировать опекаемого не удалось: %s", escape(errText(err))))
	}
	return b.sendText(chatID, fmt.Sprintf("✅ %s добавлен(а) в опекаемые.", escape(state.reg.Username)))
}

func (b *Bot) finishCourseCreation(ctx context.Context, chatID int64, state *conversationState) error {
	b.clearConversation(chatID)

	courseID, err := b.courseSvc.Create(ctx, chatID, state.course)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Сохранить курс не удалось: %s", escape(errText(err))))
	}

	var summary strings.Builder
	summary.WriteString("✅ <b>Курс сохранён</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Лекарство:</b> %s\n", escape(state.course.Medicine)))
	summary.WriteString(fmt.Sprintf("• <b>Дозатор:</b> <code>%s</code>\n", escape(state.course.Spc)))
	summary.WriteString(fmt.Sprintf("• <b>С</b> %s <b>по</b> %s\n", escape(state.course.DateStarted), escape(state.course.DateFinished)))
	summary.WriteString(fmt.Sprintf("• <b>Приёмы:</b> %s\n", escape(strings.Join(state.course.Timetable, ", "))))
	summary.WriteString("Напоминания уже запланированы. 🔔")
	log.Printf("[info] chat %d: course %d saved", chatID, courseID)
	return b.sendText(chatID, summary.String())
}

func (b *Bot) finishRename(ctx context.Context, chatID int64, name string) error {
	if err := b.accountSvc.Rename(ctx, chatID, name); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Сменить имя не удалось: %s", escape(errText(err))))
	}
	return b.sendText(chatID, fmt.Sprintf("✅ Теперь тебя зовут %s.", escape(name)))
}

// Course listing.

func (b *Bot) handleCourses(ctx context.Context, msg *tgbotapi.Message, finished bool) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}

	now := time.Now()
	var builder strings.Builder
	if finished {
		builder.WriteString("🏁 <b>Завершённые курсы</b>\n\n")
	} else {
		builder.WriteString("💊 <b>Активные курсы</b>\n\n")
	}

	var buttons [][]tgbotapi.InlineKeyboardButton
	total := 0
	for _, member := range user.All() {
		courses := course.ActiveOf(member, now)
		if finished {
			courses = course.FinishedOf(member, now)
		}
		if len(courses) == 0 {
			continue
		}
		builder.WriteString(fmt.Sprintf("👤 <b>%s</b>\n", escape(member.Username)))
		for _, crs := range courses {
			builder.WriteString(formatCourse(crs, now))
			row := []tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📊 %s", shortTitle(crs.Medicine, 16)), fmt.Sprintf("%s%d", cbStatsPrefix, crs.ID)),
				tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", fmt.Sprintf("%s%d", cbDeletePrefix, crs.ID)),
			}
			buttons = append(buttons, row)
			total++
		}
		builder.WriteByte('\n')
	}

	if total == 0 {
		if finished {
			return b.sendText(msg.Chat.ID, "Завершённых курсов пока нет.")
		}
		return b.sendText(msg.Chat.ID, "Активных курсов нет. Добавь первый через /newcourse.")
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}
	return b.sendText(msg.Chat.ID, b.summarySvc.DailySummary(user, time.Now()))
}

// Dispensers.

func (b *Bot) handleSpcList(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}

	bindings := service.Bindings(user)
	if len(bindings) == 0 {
		return b.sendText(msg.Chat.ID, "Дозаторов пока нет. Привяжи первый через /bindspc.")
	}

	var builder strings.Builder
	builder.WriteString("📦 <b>Дозаторы</b>\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, binding := range bindings {
		inUse := ""
		if service.InUse(user, binding.Serial) {
			inUse = " · занят курсом"
		}
		builder.WriteString(fmt.Sprintf("• <code>%s</code> — %s%s\n", escape(binding.Serial), escape(binding.Username), inUse))
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔔 Позвонить", cbRingPrefix+binding.Serial),
			tgbotapi.NewInlineKeyboardButtonData("✂️ Отвязать", cbUnbindPrefix+binding.Serial),
		})
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

// Wards.

func (b *Bot) handleWards(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}
	if len(user.SpcOwners) == 0 {
		return b.sendText(msg.Chat.ID, "Опекаемых пока нет. /addward — пригласить, /newward — зарегистрировать.")
	}

	now := time.Now()
	var builder strings.Builder
	builder.WriteString("👥 <b>Опекаемые</b>\n")
	for i := range user.SpcOwners {
		ward := &user.SpcOwners[i]
		builder.WriteString(fmt.Sprintf("\n👤 <b>%s</b> (%s)\n", escape(ward.Username), escape(ward.Email)))
		builder.WriteString(fmt.Sprintf("   💊 активных курсов: %d\n", len(course.ActiveOf(ward, now))))
		builder.WriteString(fmt.Sprintf("   📦 дозаторов: %d\n", len(ward.SpcSerials)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}

	now := time.Now()
	mode := "дозаторами управляет опекун"
	if user.IsDependent || !user.HasCaretaker {
		mode = "управляет дозаторами самостоятельно"
	}

	var builder strings.Builder
	builder.WriteString("👤 <b>Профиль</b>\n")
	builder.WriteString(fmt.Sprintf("• <b>Имя:</b> %s\n", escape(user.Username)))
	builder.WriteString(fmt.Sprintf("• <b>Email:</b> %s\n", escape(user.Email)))
	builder.WriteString(fmt.Sprintf("• <b>Режим:</b> %s\n", mode))
	builder.WriteString(fmt.Sprintf("• <b>Активных курсов:</b> %d\n", len(course.ActiveOf(user, now))))
	builder.WriteString(fmt.Sprintf("• <b>Дозаторов:</b> %d\n", len(user.SpcSerials)))
	builder.WriteString(fmt.Sprintf("• <b>Опекаемых:</b> %d\n", len(user.SpcOwners)))
	builder.WriteString("\n/name — изменить имя, /independent — сменить режим")
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleIndependent(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.requireUser(ctx, msg.Chat.ID)
	if user == nil {
		return err
	}
	next := !user.IsDependent
	if err := b.accountSvc.SetDependency(ctx, msg.Chat.ID, next); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не получилось: %s", escape(errText(err))))
	}
	if next {
		return b.sendText(msg.Chat.ID, "✅ Теперь ты управляешь своими дозаторами самостоятельно.")
	}
	return b.sendText(msg.Chat.ID, "✅ Твоими дозаторами теперь управляет опекун.")
}

// Confirmations (course deletion).

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.Chat.ID)
		return b.deleteCourse(ctx, msg.Chat.ID, req.courseID)
	case isCancelInput(text):
		b.clearConfirmation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "Удаление отменено.")
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Подтверди или отмени удаление курса.", confirmKeyboard())
	}
}

func (b *Bot) deleteCourse(ctx context.Context, chatID int64, courseID int64) error {
	if err := b.courseSvc.Delete(ctx, chatID, courseID); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Удалить курс не удалось: %s", escape(errText(err))))
	}
	return b.sendText(chatID, "🗑 Курс удалён. Напоминания по нему исчезнут после ближайшей синхронизации.")
}

// Callbacks.

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch {
	case strings.HasPrefix(data, cbDeletePrefix):
		courseID, err := parseID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		b.setConfirmation(chatID, confirmationRequest{courseID: courseID})
		return b.sendWithReplyMarkup(chatID, "Точно удалить курс? Статистика по нему станет недоступна.", confirmKeyboard())
	case strings.HasPrefix(data, cbStatsPrefix):
		courseID, err := parseID(data, cbStatsPrefix)
		if err != nil {
			return nil
		}
		return b.sendCourseStats(ctx, chatID, courseID)
	case strings.HasPrefix(data, cbRingPrefix):
		serial := strings.TrimPrefix(data, cbRingPrefix)
		if err := b.spcSvc.Ring(ctx, serial); err != nil {
			return b.sendText(chatID, fmt.Sprintf("Дозатор не отвечает: %s", escape(errText(err))))
		}
		return b.sendText(chatID, fmt.Sprintf("🔔 Дозатор <code>%s</code> подаёт сигнал.", escape(serial)))
	case strings.HasPrefix(data, cbUnbindPrefix):
		serial := strings.TrimPrefix(data, cbUnbindPrefix)
		if err := b.spcSvc.Unbind(ctx, chatID, serial); err != nil {
			return b.sendText(chatID, fmt.Sprintf("Отвязать не удалось: %s", escape(errText(err))))
		}
		return b.sendText(chatID, fmt.Sprintf("✂️ Дозатор <code>%s</code> отвязан.", escape(serial)))
	default:
		return nil
	}
}

func (b *Bot) sendCourseStats(ctx context.Context, chatID int64, courseID int64) error {
	takes, err := b.courseSvc.Takes(ctx, courseID)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Статистика недоступна: %s", escape(errText(err))))
	}
	if len(takes) == 0 {
		return b.sendText(chatID, "По этому курсу пока нет данных о приёмах.")
	}

	var builder strings.Builder
	builder.WriteString("📊 <b>Приёмы курса</b>\n")
	for _, take := range takes {
		when := take.Date
		if at, err := take.When(time.Local); err == nil {
			when = at.Format("02.01 15:04")
		}
		builder.WriteString(fmt.Sprintf("%s %s\n", takeIcon(take), when))
	}
	return b.sendText(chatID, strings.TrimSpace(builder.String()))
}

// Menu plumbing.

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelCourses:
		return true, b.handleCourses(ctx, msg, false)
	case menuLabelToday:
		return true, b.handleToday(ctx, msg)
	case menuLabelNewCourse:
		return true, b.startCourseConversation(ctx, msg)
	case menuLabelSpc:
		return true, b.handleSpcList(ctx, msg)
	case menuLabelWards:
		return true, b.handleWards(ctx, msg)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

// Conversation/confirmation state.

func (b *Bot) setConversation(chatID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = state
}

func (b *Bot) getConversation(chatID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[chatID]
}

func (b *Bot) hasConversation(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[chatID]
	return ok
}

func (b *Bot) clearConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}

func (b *Bot) setConfirmation(chatID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[chatID] = req
}

func (b *Bot) getConfirmation(chatID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[chatID]
	return req, ok
}

func (b *Bot) clearConfirmation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, chatID)
}

// Keyboards.

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelCourses),
			tgbotapi.NewKeyboardButton(menuLabelToday),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewCourse),
			tgbotapi.NewKeyboardButton(menuLabelSpc),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelWards),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func familyKeyboard(user *model.User) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for _, member := range user.All() {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(member.Username)))
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)))
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func spcKeyboard(user *model.User, userID int64) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	if member := user.Find(userID); member != nil {
		for _, serial := range member.SpcSerials {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(serial)))
		}
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)))
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// Helpers.

func findMember(user *model.User, username string) *model.User {
	if user == nil {
		return nil
	}
	for _, member := range user.All() {
		if strings.EqualFold(member.Username, username) {
			return member
		}
	}
	return nil
}

func parseTimetable(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	var timetable []string
	seen := make(map[string]bool)
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		parsed, err := time.Parse(model.TimeLayout, value)
		if err != nil {
			return nil, fmt.Errorf("время %q не в формате ЧЧ:ММ", value)
		}
		// Zero-pad: dose times are compared as strings.
		value = parsed.Format(model.TimeLayout)
		if seen[value] {
			return nil, fmt.Errorf("время %q повторяется", value)
		}
		seen[value] = true
		timetable = append(timetable, value)
	}
	if len(timetable) == 0 {
		return nil, errors.New("нужно хотя бы одно время приёма")
	}
	return timetable, nil
}

func parseID(data, prefix string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
}

func parseYesNo(text string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "да", "yes", "y":
		return true, true
	case "нет", "no", "n", "-":
		return false, true
	default:
		return false, false
	}
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "подтвердить" || value == "да"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "отмена"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "отменить ввод" || value == "отмена"
}

func formatCourse(crs model.Course, now time.Time) string {
	status, err := course.StatusOf(crs, now)
	icon := "💊"
	note := ""
	if err == nil {
		switch status {
		case course.Waiting:
			icon = "🕒"
			note = fmt.Sprintf(" · начнётся %s", crs.DateStarted)
		case course.Finished:
			icon = "🏁"
			note = fmt.Sprintf(" · закончился %s", crs.DateFinished)
		default:
			note = fmt.Sprintf(" · до %s", crs.DateFinished)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>%s\n", icon, escape(crs.Medicine), escape(note)))
	sb.WriteString(fmt.Sprintf("   ⏰ %s · дозатор <code>%s</code>\n", escape(strings.Join(crs.Timetable, ", ")), escape(crs.Spc)))
	return sb.String()
}

func takeIcon(take model.Take) string {
	switch {
	case take.Status == model.TakeLost:
		return "📡"
	case take.Status == model.TakeWait:
		return "⏳"
	case take.Taken:
		return "✅"
	default:
		return "❌"
	}
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func errText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func escape(s string) string {
	return html.EscapeString(s)
}
