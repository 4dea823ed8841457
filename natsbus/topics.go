package natsbus

import "fmt"

// Topic patterns for run traffic.

func TopicRunEvents(runID string) string {
	return fmt.Sprintf("codepair.run.%s.events", runID)
}

func TopicRunReply(runID string) string {
	return fmt.Sprintf("codepair.run.%s.reply", runID)
}

const TopicEventsAll = "codepair.run.*.events"
