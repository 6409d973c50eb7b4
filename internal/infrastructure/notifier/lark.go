// Package notifier delivers workflow notifications to people.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// LarkConfig holds the Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
}

// MessageSender sends one IM message and returns its message id
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// UserLookup finds the directory entry of a recipient
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*entity.OrgUser, error)
}

// LarkNotifier sends notifications as Lark text messages addressed by open id
type LarkNotifier struct {
	sender MessageSender
	users  UserLookup
	logger *zap.Logger
}

var _ port.Notifier = (*LarkNotifier)(nil)

// NewLarkNotifier creates a notifier on top of sender
func NewLarkNotifier(sender MessageSender, users UserLookup, logger *zap.Logger) *LarkNotifier {
	return &LarkNotifier{
		sender: sender,
		users:  users,
		logger: logger,
	}
}

// Notify implements port.Notifier. Recipients without a Lark open id are
// skipped with a warning since retrying cannot help.
func (n *LarkNotifier) Notify(ctx context.Context, msg port.Notification) error {
	user, err := n.users.GetByID(ctx, msg.RecipientID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			n.logger.Warn("Notification recipient not in directory", zap.String("recipient_id", msg.RecipientID))
			return nil
		}
		return fmt.Errorf("look up recipient: %w", err)
	}
	if user.LarkOpenID == "" {
		n.logger.Warn("Recipient has no Lark open id", zap.String("recipient_id", msg.RecipientID))
		return nil
	}

	content, err := json.Marshal(map[string]string{"text": textOf(msg)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	messageID, err := n.sender.SendMessage(ctx, "open_id", user.LarkOpenID, "text", string(content))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	n.logger.Info("Lark notification sent",
		zap.String("message_id", messageID),
		zap.String("recipient_id", msg.RecipientID),
		zap.String("request_id", msg.RequestID))
	return nil
}

func textOf(msg port.Notification) string {
	text := msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	if msg.RequestID != "" {
		text += "\nRequest: " + msg.RequestID
	}
	return text
}

// SDKSender sends messages through the Lark open platform SDK
type SDKSender struct {
	client *lark.Client
	logger *zap.Logger
}

// NewSDKSender creates a Lark SDK client with token caching
func NewSDKSender(cfg LarkConfig, logger *zap.Logger) *SDKSender {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &SDKSender{client: client, logger: logger}
}

// SendMessage sends a message to a user or group
func (s *SDKSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := s.client.Im.Message.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		s.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	return messageID, nil
}
