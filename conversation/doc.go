// Package conversation drives turn-based, multi-participant conversations.
//
// A Team takes turns round-robin over its participants until its
// TerminationCondition matches the latest message. A Team is itself a
// Participant, so an inner generate/review loop can take a single turn in an
// outer loop that also contains a human. The human is reached through a
// Bridge: the driver goroutine suspends in Request until a foreground surface
// calls Supply.
//
// The Orchestrator wires the standard two-level arrangement:
//
//	outer = Team([inner, human], TextMention("exit", human))
//	inner = Team([coder, critic], TextMention("Approved"))
//
// and runs it on its own goroutine, streaming Events until exactly one done
// event closes the run.
package conversation
