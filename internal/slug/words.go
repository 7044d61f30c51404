package slug

// Three vocabularies for descriptor-subject-action slugs. Kept short and
// alphabetical; adding words never invalidates existing slugs.

var descriptors = []string{
	"amber", "azure", "bold", "bright", "bronze", "calm", "coral", "crimson",
	"dusty", "ebony", "emerald", "fuchsia", "gentle", "golden", "indigo",
	"ivory", "jade", "lively", "lunar", "maroon", "mellow", "misty", "noble",
	"ochre", "olive", "pearl", "proud", "quiet", "rapid", "rosy", "ruby",
	"rustic", "sable", "sage", "scarlet", "silent", "silver", "sleek",
	"solar", "stormy", "swift", "teal", "tidal", "umber", "velvet", "vivid",
	"wild", "witty", "zesty",
}

var subjects = []string{
	"badger", "bear", "bison", "crane", "deer", "dolphin", "eagle", "elephant",
	"falcon", "ferret", "finch", "fox", "gazelle", "gecko", "heron", "ibex",
	"jaguar", "koala", "lemur", "lion", "lynx", "magpie", "marmot", "marten",
	"mole", "moose", "newt", "ocelot", "orca", "osprey", "otter", "owl",
	"panda", "pelican", "pika", "puffin", "rabbit", "raven", "robin",
	"salmon", "seal", "sparrow", "stoat", "swan", "tapir", "tiger", "toucan",
	"walrus", "wolf", "wren",
}

var actions = []string{
	"basking", "building", "chasing", "climbing", "dancing", "darting",
	"diving", "dreaming", "drifting", "flying", "foraging", "gliding",
	"grazing", "hopping", "humming", "hunting", "jumping", "leaping",
	"marching", "nesting", "pacing", "paddling", "perching", "playing",
	"prowling", "racing", "resting", "roaming", "rolling", "running",
	"sailing", "singing", "sliding", "sneaking", "soaring", "spinning",
	"sprinting", "stretching", "swimming", "trekking", "trotting",
	"wading", "waking", "wandering", "watching", "weaving", "whistling",
	"winding",
}
