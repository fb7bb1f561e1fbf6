package slackbot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"supplybot/internal/extract"
	"supplybot/internal/logx"
)

var errFileTooLarge = errors.New("file too large")

// handleFileShared runs an invoice uploaded to the intake channel through
// the pipeline and answers in the file's thread.
func (b *Bot) handleFileShared(ctx context.Context, channelID, userID, fileID string) {
	if b.intakeChannelID == "" || channelID != b.intakeChannelID {
		return
	}
	if b.processor == nil || b.extractor == nil {
		return
	}
	log := b.logger.WithFields(logrus.Fields{"file_id": fileID, "user": userID, "channel": channelID})

	file, _, _, err := b.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		logx.LogError(log, "slack", "handleFileShared", "file info failed", fileID, err)
		b.postEphemeral(ctx, channelID, userID, fmt.Sprintf("Could not read the upload: %v", err))
		return
	}
	thread := fileThread(file, channelID)

	data, err := b.download(ctx, file)
	if err != nil {
		logx.LogError(log, "slack", "handleFileShared", "download failed", file.Name, err)
		b.reply(ctx, channelID, thread, fmt.Sprintf(":x: Could not download %s: %v", file.Name, err))
		return
	}

	header := parseHeaderHints(file.InitialComment.Comment)
	doc, err := b.extractor.FromFile(ctx, file.Name, data, header)
	if err != nil {
		log.WithError(err).Warn("extraction failed")
		b.reply(ctx, channelID, thread, fmt.Sprintf(":x: Parsing error: %v", err))
		return
	}

	b.reply(ctx, channelID, thread, fmt.Sprintf(":hourglass_flowing_sand: Processing %s (%d lines)...", file.Name, len(doc.Items)))
	log.WithField("lines", len(doc.Items)).Info("invoice received from Slack")
	if _, err := b.processor.Process(withOrigin(ctx, channelID, thread), doc); err != nil {
		logx.LogError(log, "slack", "handleFileShared", "process failed", file.Name, err)
		b.reply(ctx, channelID, thread, fmt.Sprintf(":x: Processing error: %v", err))
	}
}

func (b *Bot) download(ctx context.Context, file *slack.File) ([]byte, error) {
	if file.Size > b.maxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", errFileTooLarge, file.Size)
	}
	url := file.URLPrivateDownload
	if url == "" {
		url = file.URLPrivate
	}
	var buf bytes.Buffer
	if err := b.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Bot) reply(ctx context.Context, channelID, thread, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := b.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		logx.LogError(b.logger, "slack", "reply", "post failed", channelID, err)
	}
}

// fileThread finds the message that shared the file in channelID.
func fileThread(file *slack.File, channelID string) string {
	if shares, ok := file.Shares.Public[channelID]; ok && len(shares) > 0 {
		return shares[0].Ts
	}
	if shares, ok := file.Shares.Private[channelID]; ok && len(shares) > 0 {
		return shares[0].Ts
	}
	return ""
}

// parseHeaderHints reads "key: value" lines from an upload comment. They
// fill the fields a spreadsheet cannot carry.
func parseHeaderHints(comment string) extract.SheetHeader {
	var h extract.SheetHeader
	sc := bufio.NewScanner(strings.NewReader(comment))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "supplier", "постачальник":
			h.Supplier = value
		case "number", "invoice", "номер":
			h.Number = value
		case "date", "дата":
			h.Date = value
		case "total", "сума":
			h.Total = value
		}
	}
	return h
}
