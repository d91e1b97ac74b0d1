package xp

// ActionKind names a user action that earns experience.
type ActionKind string

const (
	ActionCheckIn           ActionKind = "CHECKIN"
	ActionChatMessage       ActionKind = "CHAT_MSG"
	ActionPhotoPost         ActionKind = "PHOTO_POST"
	ActionTeamCreate        ActionKind = "TEAM_CREATE"
	ActionChallengeCreate   ActionKind = "CHALLENGE_CREATE"
	ActionChallengeAccept   ActionKind = "CHALLENGE_ACCEPT"
	ActionAchievementUnlock ActionKind = "ACH_UNLOCK"
)

// Rule is the static award policy of one action kind. DailyCap of zero means uncapped.
type Rule struct {
	Kind     ActionKind
	XP       int64
	DailyCap int64
}

// Capped reports whether the rule limits awards per calendar day.
func (r Rule) Capped() bool {
	return r.DailyCap > 0
}

var ruleTable = []Rule{
	{Kind: ActionCheckIn, XP: 10},
	{Kind: ActionChatMessage, XP: 1, DailyCap: 30},
	{Kind: ActionPhotoPost, XP: 5, DailyCap: 10},
	{Kind: ActionTeamCreate, XP: 15},
	{Kind: ActionChallengeCreate, XP: 5, DailyCap: 5},
	{Kind: ActionChallengeAccept, XP: 10},
	{Kind: ActionAchievementUnlock, XP: 20},
}

// Rules returns a copy of the rule table in declaration order.
func Rules() []Rule {
	return append([]Rule(nil), ruleTable...)
}

// RuleFor looks up the rule of an action kind.
func RuleFor(kind ActionKind) (Rule, bool) {
	for _, rule := range ruleTable {
		if rule.Kind == kind {
			return rule, true
		}
	}
	return Rule{}, false
}
