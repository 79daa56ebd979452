package services

// Curated name lists used by the default gender classifier. This is a
// heuristic data asset: names absent from both lists classify as unknown.
var femaleVoiceNames = []string{
	"tasha", "lisa", "emily", "jenny", "aria", "joanna", "mary", "salli", "joey",
	"sonia", "amy", "libby", "natasha", "freya", "olivia", "ezinne", "leah",
	"adri", "fatima", "hala", "rana", "tanishaa", "kalina", "joana", "xiaoxiao",
	"xiaomeng", "xiaoyan", "hiumaan", "hsiaochen", "hsiaoyu", "gabrijela",
	"vlasta", "christel", "colette", "laura", "dena", "anu", "blessica", "selma",
	"denise", "celeste", "sylvie", "charline", "ariane", "katja", "louisa",
	"vicki", "eka", "athina", "hila", "swara", "noemi", "gudrun", "gadis",
	"irma", "elsa", "palmira", "imelda", "bianca", "mayu", "nanami", "shiori",
	"aigul", "jimin", "ona", "everita", "yasmin", "hemkala", "iselin", "pernille",
	"dilara", "agnieszka", "zofia", "brenda", "yara", "leila", "camila",
	"fernanda", "ines", "alina", "dariya", "viktoria", "petra", "sameera",
	"thilini", "vera", "triana", "carlota", "larissa", "hillevi", "sofie",
	"rehema", "pallavi", "saranya", "kani", "venba", "shruti", "premwadee",
	"emel", "gul", "uzma", "polina", "hoaimy", "orla",
}

var maleVoiceNames = []string{
	"henry", "cliff", "guy", "jane", "matthew", "benwilson", "kyle", "kristy",
	"oliver", "joe", "george", "rob", "russell", "benjamin", "nate", "ryan",
	"michael", "thomas", "brian", "william", "ken", "abeo", "luke", "willem",
	"hamdan", "bassel", "bashkar", "borislav", "enric", "yunfeng", "yunjian",
	"yunze", "zhiyu", "wanlung", "hiujin", "yunjhe", "srecko", "antonin",
	"jeppe", "maarten", "ruben", "arnaud", "kert", "angelo", "harri", "henri",
	"claude", "jean", "gerard", "fabrice", "christoph", "conrad", "daniel",
	"giorgi", "nestoras", "avri", "madhur", "tamas", "gunnar", "ardi",
	"benigno", "gianni", "diego", "cataldo", "adriano", "naoki", "daichi",
	"keita", "daulet", "injoon", "bongjin", "leonas", "nils", "osman", "sagar",
	"finn", "farid", "marek", "donato", "fabio", "julio", "thiago", "duarte",
	"cristiano", "emil", "dmitry", "lukas", "rok", "kumar", "surya", "anbu",
	"mohan", "niwat", "ahmet", "salman", "asad", "ostap", "namminh", "colm",
}

// Celebrity/character voices take category priority over the language map.
var celebrityVoiceNames = []string{"mrbeast", "snoop", "presidential"}

// Language prefix to category label.
var languageCategories = map[string]string{
	"en": "english",
	"es": "spanish",
	"fr": "french",
	"de": "german",
	"it": "italian",
	"pt": "portuguese",
	"ru": "russian",
	"ja": "japanese",
	"ko": "korean",
	"zh": "chinese",
	"ar": "arabic",
	"hi": "hindi",
	"th": "thai",
	"vi": "vietnamese",
}
