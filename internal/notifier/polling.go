package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(userID int64, firstName, command string) string

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramMessage struct {
	Text string        `json:"text"`
	From *telegramUser `json:"from"`
	Chat telegramChat  `json:"chat"`
}

type telegramCallback struct {
	ID      string           `json:"id"`
	Data    string           `json:"data"`
	From    *telegramUser    `json:"from"`
	Message *telegramMessage `json:"message"`
}

// telegramUpdate represents a Telegram update from long polling. Both plain
// messages and inline-button callback queries carry commands.
type telegramUpdate struct {
	UpdateID      int               `json:"update_id"`
	Message       *telegramMessage  `json:"message"`
	CallbackQuery *telegramCallback `json:"callback_query"`
}

// StartPolling begins long-polling for Telegram commands. Blocks until ctx
// is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := 0
	client := &http.Client{Timeout: 35 * time.Second, Transport: t.Client.Transport}

	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] Telegram polling stopped")
			return
		default:
		}

		apiURL := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=30", t.APIBase, t.BotToken, offset)
		req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
		if err != nil {
			log.Printf("[ERROR] create polling request: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] polling request failed: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.Printf("[WARN] read polling response: %v", err)
			continue
		}

		var result struct {
			OK     bool             `json:"ok"`
			Result []telegramUpdate `json:"result"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			log.Printf("[WARN] decode polling response: %v", err)
			continue
		}

		for _, update := range result.Result {
			offset = update.UpdateID + 1
			t.dispatch(update, handler)
		}
	}
}

// dispatch extracts a command from one update and sends the reply. A
// callback query is translated into the equivalent slash command and
// answered with a fresh message; handlers are never re-entered from their
// own reply.
func (t *TelegramNotifier) dispatch(update telegramUpdate, handler CommandHandler) {
	var userID, chatID int64
	var firstName, text string

	switch {
	case update.Message != nil && update.Message.From != nil && update.Message.Text != "":
		userID = update.Message.From.ID
		firstName = update.Message.From.FirstName
		chatID = update.Message.Chat.ID
		text = strings.TrimSpace(update.Message.Text)

	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		cb := update.CallbackQuery
		if err := t.answerCallback(cb.ID); err != nil {
			log.Printf("[WARN] answer callback: %v", err)
		}
		userID = cb.From.ID
		firstName = cb.From.FirstName
		chatID = userID
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
		}
		text = "/" + strings.TrimPrefix(strings.TrimSpace(cb.Data), "/")

	default:
		return
	}

	log.Printf("[INFO] received command from %d: %s", userID, text)
	reply := handler(userID, firstName, text)
	if reply == "" {
		return
	}

	// The welcome reply carries the stats button; callbacks from it come
	// back through the callback-query branch above.
	var err error
	if fields := strings.Fields(text); len(fields) > 0 && fields[0] == "/start" {
		err = t.SendWithStatsButton(chatID, reply)
	} else {
		err = t.Send(chatID, reply)
	}
	if err != nil {
		log.Printf("[ERROR] send reply: %v", err)
	}
}
