package queryprep

// frenchStopwords covers articles, auxiliaries, pronouns, prepositions and
// the other closed-class words too frequent in French prose to carry
// keyword-search signal. Kept as a plain set rather than a stemmed list —
// tsquery construction only strips whole tokens, it never stems.
var frenchStopwords = map[string]bool{
	"a": true, "afin": true, "ai": true, "ainsi": true, "alors": true,
	"apres": true, "après": true, "au": true, "aucun": true, "aucune": true,
	"aujourd": true, "auquel": true, "aussi": true, "autre": true, "autres": true,
	"aux": true, "auxquelles": true, "auxquels": true, "avaient": true, "avais": true,
	"avait": true, "avant": true, "avec": true, "avoir": true, "ayant": true,
	"c": true, "ca": true, "ça": true, "car": true, "ce": true,
	"ceci": true, "cela": true, "celle": true, "celles": true, "celui": true,
	"cependant": true, "certain": true, "certaine": true, "certaines": true, "certains": true,
	"ces": true, "cet": true, "cette": true, "ceux": true, "chacun": true,
	"chacune": true, "chaque": true, "chez": true, "comme": true, "comment": true,
	"d": true, "dans": true, "de": true, "des": true, "devrait": true,
	"divers": true, "diverse": true, "diverses": true, "dois": true, "doit": true,
	"donc": true, "dont": true, "du": true, "duquel": true, "durant": true,
	"elle": true, "elles": true, "en": true, "encore": true, "entre": true,
	"es": true, "est": true, "et": true, "etaient": true, "étaient": true,
	"etais": true, "étais": true, "etait": true, "était": true, "etant": true,
	"étant": true, "etc": true, "été": true, "etre": true, "être": true,
	"eu": true, "eux": true, "furent": true, "fus": true, "fut": true,
	"hors": true, "ici": true, "il": true, "ils": true, "j": true,
	"je": true, "jusqu": true, "jusque": true, "l": true, "la": true,
	"laquelle": true, "le": true, "lequel": true, "les": true, "lesquelles": true,
	"lesquels": true, "leur": true, "leurs": true, "lui": true, "là": true,
	"m": true, "ma": true, "mais": true, "malgre": true, "malgré": true,
	"me": true, "meme": true, "même": true, "memes": true, "mêmes": true,
	"mes": true, "moi": true, "moins": true, "mon": true, "n": true,
	"ne": true, "ni": true, "non": true, "nos": true, "notre": true,
	"nous": true, "on": true, "ont": true, "ou": true, "où": true,
	"par": true, "parce": true, "parmi": true, "pas": true, "pendant": true,
	"peu": true, "plus": true, "plusieurs": true, "pour": true, "pourquoi": true,
	"qu": true, "quand": true, "que": true, "quel": true, "quelle": true,
	"quelles": true, "quels": true, "quelqu": true, "quelque": true, "quelques": true,
	"qui": true, "quoi": true, "quoique": true, "s": true, "sa": true,
	"sans": true, "se": true, "selon": true, "ses": true, "si": true,
	"soi": true, "soient": true, "sois": true, "soit": true, "sommes": true,
	"son": true, "sont": true, "sous": true, "soyez": true, "suis": true,
	"sur": true, "t": true, "ta": true, "tandis": true, "te": true,
	"tel": true, "telle": true, "telles": true, "tels": true, "tes": true,
	"toi": true, "ton": true, "toujours": true, "tous": true, "tout": true,
	"toute": true, "toutes": true, "tres": true, "très": true, "tu": true,
	"un": true, "une": true, "uns": true, "vers": true, "voici": true,
	"voila": true, "voilà": true, "vos": true, "votre": true, "vous": true,
	"y": true,
}

// isStopword reports whether a lowercased, punctuation-stripped token is a
// French stopword.
func isStopword(token string) bool {
	return frenchStopwords[token]
}
