package main

// The prompt pool is a fixed, ordered list; each game plays through the first
// min(len(prompts), --max-rounds) of them. Prompts are kept in the game's
// original Russian.
var prompts = []string{
	"Худший подарок на день рождения?",
	"Что бы вы крикнули, прыгая с парашютом?",
	"Название вашей автобиографии?",
	"Последние слова супергероя?",
	"Худший рекламный слоган для похоронного бюро?",
	"Что написано на вашей футболке?",
	"Новое название для понедельника?",
	"Худший совет для первого свидания?",
	"Название вашей рок-группы?",
	"Что нельзя говорить полицейскому?",
	"Секретный ингредиент бабушкиного супа?",
	"Название нового вида спорта?",
	"Что вы никогда не скажете на собеседовании?",
	"Худшее имя для домашнего питомца?",
	"Слоган для вашего ресторана быстрого питания?",
}

func totalRounds(cfg *Config) int {
	return min(len(prompts), cfg.maxRounds)
}
