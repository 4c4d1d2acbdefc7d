package notification

import (
	"fmt"
	"strings"

	"github.com/nao1215/servicedesk/pkg/event"
)

// ticketMessage はチケットイベントから通知の宛先・タイトル・本文を組み立てる。
func ticketMessage(ev *event.Event) (recipientID, title, message string, err error) {
	if ev == nil || !ev.AggregateType.IsTicket() {
		return "", "", "", fmt.Errorf("%w: チケット以外のイベントです", ErrInvalidInput)
	}
	data, err := event.DecodeData[event.TicketEventData](ev)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: イベントデータを解析できません: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(data.RecipientID) == "" {
		return "", "", "", fmt.Errorf("%w: 通知先が指定されていません", ErrInvalidInput)
	}

	ticket := fmt.Sprintf("%s #%d", ev.AggregateType, data.TicketNumber)
	switch ev.EventType {
	case event.TypeTicketCreated:
		return data.RecipientID, "Ticket created", fmt.Sprintf("%s %s was created", ticket, data.Title), nil
	case event.TypeTicketAssigned:
		return data.RecipientID, "Ticket assigned", ticket + " assigned to you", nil
	case event.TypeTicketCommented:
		actor := data.ActorName
		if actor == "" {
			actor = data.ActorID
		}
		return data.RecipientID, "New comment", fmt.Sprintf("%s commented on %s: %s", actor, ticket, data.Comment), nil
	case event.TypeTicketStatusChanged:
		return data.RecipientID, "Status changed", fmt.Sprintf("%s is now %s", ticket, data.Status), nil
	}
	return "", "", "", fmt.Errorf("%w: 未対応のイベント種別です: %s", ErrInvalidInput, ev.EventType)
}
