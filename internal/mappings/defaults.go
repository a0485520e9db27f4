package mappings

// defaultTable lists the public CDN hosts with bundled copies and the path
// prefixes served from each.
var defaultTable = map[string]map[string]string{
	"ajax.googleapis.com": {
		"/ajax/libs/angularjs/":     "resources/angularjs/",
		"/ajax/libs/dojo/":          "resources/dojo/",
		"/ajax/libs/ext-core/":      "resources/ext-core/",
		"/ajax/libs/jquery/":        "resources/jquery/",
		"/ajax/libs/jqueryui/":      "resources/jqueryui/",
		"/ajax/libs/mootools/":      "resources/mootools/",
		"/ajax/libs/prototype/":     "resources/prototype.js/",
		"/ajax/libs/scriptaculous/": "resources/scriptaculous/",
		"/ajax/libs/swfobject/":     "resources/swfobject/",
		"/ajax/libs/webfont/":       "resources/webfont/",
	},
	"ajax.aspnetcdn.com": {
		"/ajax/jquery/":    "resources/jquery/",
		"/ajax/jquery.ui/": "resources/jqueryui/",
		"/ajax/modernizr/": "resources/modernizr/",
	},
	"ajax.microsoft.com": {
		"/ajax/jquery/":    "resources/jquery/",
		"/ajax/jquery.ui/": "resources/jqueryui/",
	},
	"cdnjs.cloudflare.com": {
		"/ajax/libs/angular.js/":    "resources/angularjs/",
		"/ajax/libs/backbone.js/":   "resources/backbone.js/",
		"/ajax/libs/dojo/":          "resources/dojo/",
		"/ajax/libs/ember.js/":      "resources/ember.js/",
		"/ajax/libs/jquery/":        "resources/jquery/",
		"/ajax/libs/jqueryui/":      "resources/jqueryui/",
		"/ajax/libs/modernizr/":     "resources/modernizr/",
		"/ajax/libs/mootools/":      "resources/mootools/",
		"/ajax/libs/scriptaculous/": "resources/scriptaculous/",
		"/ajax/libs/swfobject/":     "resources/swfobject/",
		"/ajax/libs/underscore.js/": "resources/underscore.js/",
		"/ajax/libs/webfont/":       "resources/webfont/",
	},
	"code.jquery.com": {
		"/jquery-": "resources/jquery/",
		"/ui/":     "resources/jqueryui/",
	},
	"cdn.jsdelivr.net": {
		"/angularjs/":     "resources/angularjs/",
		"/backbonejs/":    "resources/backbone.js/",
		"/dojo/":          "resources/dojo/",
		"/emberjs/":       "resources/ember.js/",
		"/jquery/":        "resources/jquery/",
		"/jquery.ui/":     "resources/jqueryui/",
		"/mootools/":      "resources/mootools/",
		"/underscorejs/":  "resources/underscore.js/",
		"/webfontloader/": "resources/webfont/",
	},
	"yastatic.net": {
		"/angularjs/":  "resources/angularjs/",
		"/backbone/":   "resources/backbone.js/",
		"/dojo/":       "resources/dojo/",
		"/jquery/":     "resources/jquery/",
		"/jquery-ui/":  "resources/jqueryui/",
		"/modernizr/":  "resources/modernizr/",
		"/underscore/": "resources/underscore.js/",
	},
	"yandex.st": {
		"/angularjs/": "resources/angularjs/",
		"/jquery/":    "resources/jquery/",
		"/jquery-ui/": "resources/jqueryui/",
	},
	"apps.bdimg.com": {
		"/libs/angular.js/": "resources/angularjs/",
		"/libs/jquery/":     "resources/jquery/",
		"/libs/jqueryui/":   "resources/jqueryui/",
	},
	"libs.baidu.com": {
		"/jquery/":   "resources/jquery/",
		"/jqueryui/": "resources/jqueryui/",
	},
	"lib.sinaapp.com": {
		"/js/jquery/":    "resources/jquery/",
		"/js/jquery-ui/": "resources/jqueryui/",
	},
	"upcdn.b0.upaiyun.com": {
		"/libs/jquery/": "resources/jquery/",
	},
	"cdn.bootcss.com": {
		"/angular.js/": "resources/angularjs/",
		"/jquery/":     "resources/jquery/",
		"/jqueryui/":   "resources/jqueryui/",
	},
	"sdn.geekzu.org": {
		"/ajax/ajax/libs/jquery/":   "resources/jquery/",
		"/ajax/ajax/libs/jqueryui/": "resources/jqueryui/",
	},
	"ajax.proxy.ustclug.org": {
		"/ajax/libs/jquery/":   "resources/jquery/",
		"/ajax/libs/jqueryui/": "resources/jqueryui/",
	},
}
