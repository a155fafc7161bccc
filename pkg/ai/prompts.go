package ai

// EntityPrompt asks for entities of the listed types. Arguments: the
// comma separated type list, an optional hint block, the document text.
const EntityPrompt = `你是一个专业的生物医学实体识别专家，请从以下相关文本中提取"%s"类型的实体。

请按照以下JSON格式返回结果：
{
  "疾病": [
    {"text": "矽肺", "occurrences": 5},
    {"text": "肺纤维化", "occurrences": 2}
  ],
  "基因": [
    {"text": "IL-6", "occurrences": 3},
    {"text": "TNF-α", "occurrences": 1}
  ],
  ...其他类型
}

注意事项：
1. 只返回JSON格式的结果，不要添加任何解释或额外文本
2. 确保准确识别实体，避免误识别
3. 如果某类实体没有发现，返回空列表
4. 统计每个实体在文本中出现的次数
5. 同一实体的不同表达形式（如全称和缩写）算作不同实体
6. 包含所有指定的实体类型，即使没有找到该类型的实体
%s
以下是需要提取实体的文本：

%s`

// EntityHintBlock lists known chemical names from the source records.
const EntityHintBlock = `
文献中已标注的化学物质（可作为药物类实体的参考）：%s
`

// RelationPrompt asks for relations between known entities. Arguments:
// the entity list as JSON, the comma separated relation vocabulary, the
// JSON schema of one answer, the document text.
const RelationPrompt = `你是一个专业的生物医学关系提取专家，请识别以下文本中实体之间的关系。

已知实体列表:
%s

请从文本中提取这些实体之间的关系，关系类型包括: %s
请按照以下JSON格式返回结果:
[
  {
    "source": {"text": "IL-6", "type": "基因"},
    "target": {"text": "矽肺", "type": "疾病"},
    "relation": "相关",
    "confidence": 0.9
  },
  {
    "source": {"text": "TNF-α", "type": "基因"},
    "target": {"text": "炎症", "type": "生物过程"},
    "relation": "上调",
    "confidence": 0.85
  }
]

每个关系对象须符合以下JSON Schema:
%s

注意事项:
1. 只返回JSON格式的结果，不要添加任何解释或额外文本
2. 确保准确识别关系，避免误识别
3. confidence字段表示关系的置信度，范围为0-1
4. 只提取有明确证据支持的关系
5. source和target必须来自给定的实体列表
6. 如果没有发现任何关系，返回空数组 []

以下是需要提取关系的文本:

%s`

// TruncationMarker is appended to prompt text that was cut short.
const TruncationMarker = "...(文本已截断)"
