package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errUsage = errors.New("invalid command arguments")

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments. Text that
// is not a command yields an empty name.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:]
}

type scheduleArgs struct {
	PublishAtLocal string
	RemindOffset   time.Duration
	AutoPublish    bool
}

// parseScheduleArgs reads "DD.MM.YYYY HH:MM [minutes] [manual]"
func parseScheduleArgs(args []string, defaultOffset time.Duration) (scheduleArgs, error) {
	if len(args) < 2 || len(args) > 4 {
		return scheduleArgs{}, errUsage
	}
	parsed := scheduleArgs{
		PublishAtLocal: args[0] + " " + args[1],
		RemindOffset:   defaultOffset,
		AutoPublish:    true,
	}

	seenMinutes := false
	for _, arg := range args[2:] {
		if strings.EqualFold(arg, "manual") && parsed.AutoPublish {
			parsed.AutoPublish = false
			continue
		}
		offset, err := parseMinutes(arg)
		if err != nil || seenMinutes {
			return scheduleArgs{}, errUsage
		}
		parsed.RemindOffset = offset
		seenMinutes = true
	}
	return parsed, nil
}

type postponeArgs struct {
	PostID         string
	PublishAtLocal string
	// nil keeps the post's current offset
	RemindOffset *time.Duration
}

// parsePostponeArgs reads "ID DD.MM.YYYY HH:MM [minutes]"
func parsePostponeArgs(args []string) (postponeArgs, error) {
	if len(args) < 3 || len(args) > 4 {
		return postponeArgs{}, errUsage
	}
	parsed := postponeArgs{
		PostID:         args[0],
		PublishAtLocal: args[1] + " " + args[2],
	}
	if len(args) == 4 {
		offset, err := parseMinutes(args[3])
		if err != nil {
			return postponeArgs{}, errUsage
		}
		parsed.RemindOffset = &offset
	}
	return parsed, nil
}

// maxRemindMinutes caps reminder offsets at one week
const maxRemindMinutes = 7 * 24 * 60

func parseMinutes(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxRemindMinutes {
		return 0, errUsage
	}
	return time.Duration(n) * time.Minute, nil
}
