package form

// Durations are the talk lengths offered, in minutes.
var Durations = []int{15, 30, 45, 60}

var Roles = []string{
	"Accountant",
	"Administrative",
	"Analyst",
	"Attorney",
	"Business strategy consultant",
	"Communications",
	"Coordinator",
	"Corporate development/M&A",
	"Corporate engineer",
	"Creative editorial",
	"Data warehousing",
	"Developer relations",
	"General program manager",
	"Hardware",
	"HR professional",
	"Learning and development",
	"Legal support",
	"Marketing",
	"Network engineer and ops",
	"Ops - business processes",
	"Ops - data center",
	"Ops - hardware",
	"Ops - supply chain and manufacturing",
	"Partnerships and business development",
	"Physical security",
	"Policy",
	"Product manager",
	"Quant",
	"Real estate",
	"Research scientist",
	"Sales - account executive",
	"Sales - account management",
	"Sales - enterprise",
	"Sales - new client acquisition",
	"Sales - services",
	"Security engineer",
	"Site reliability engineer",
	"Software engineer",
	"Software engineer, tools and infrastructure",
	"Specialty roles",
	"Staffing",
	"System integrator",
	"Technical client facing",
	"Technical program manager",
	"Technical writer",
	"User experience",
	"Web developer",
	"Workplace services",
}

var ProductAreas = []string{
	"Ads",
	"Area 120",
	"Cloud",
	"Commerce",
	"Community Efforts",
	"Core",
	"Corporate Engineering",
	"Devices and Services",
	"Geo",
	"Global Affairs",
	"Global Business & Operations",
	"Global Communications & Public Affairs",
	"Google - advisors",
	"Google Finance",
	"Health",
	"Jigsaw",
	"Learning & Education",
	"Marketing",
	"Next Billion Users",
	"Payments",
	"People Operations",
	"Platforms & Ecosystems",
	"REWS (Real Estate & Workplace Services)",
	"Research",
	"Search",
	"Waze",
	"Youtube",
}

var Interests = []string{
	"Anime/Manga",
	"Art & Design",
	"Books",
	"Current Events",
	"Entertainment",
	"Exercise/Fitness",
	"Food",
	"Gaming",
	"Mental Health",
	"Mindfulness",
	"Music",
	"Nature",
	"Pets",
	"Public Speaking",
	"Shopping",
	"Social Activism",
	"Sports",
	"Travel",
	"Volunteering",
	"Writing",
}

type MatchPreference string

const (
	MatchSimilar   MatchPreference = "similar"
	MatchAny       MatchPreference = "any"
	MatchDifferent MatchPreference = "different"
)

var (
	roleSet        = toSet(Roles)
	productAreaSet = toSet(ProductAreas)
	interestSet    = toSet(Interests)
)

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func IsRole(s string) bool        { _, ok := roleSet[s]; return ok }
func IsProductArea(s string) bool { _, ok := productAreaSet[s]; return ok }
func IsInterest(s string) bool    { _, ok := interestSet[s]; return ok }
